package main

import (
	"github.com/Paintersrp/procgroup/internal/cli"
	"github.com/Paintersrp/procgroup/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
