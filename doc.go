// Package procgroup runs a primary process and a fixed set of forked worker
// processes, and shuts the whole group down within a bounded grace period.
//
// The same program runs in every process of the group. Run inspects the
// environment inherited from the primary to decide whether the current
// process is the primary or one of its workers, and executes the matching
// hooks from Options:
//
//	func main() {
//		err := procgroup.Run(context.Background(), procgroup.Options{
//			Primary: &procgroup.Primary{
//				Start: func(ctx context.Context) error {
//					_, err := procgroup.Listen(ctx, "tcp", ":8080")
//					return err
//				},
//			},
//			Workers: []procgroup.Worker{{
//				Name:  "web",
//				Count: 4,
//				Start: serve,
//				Stop:  drain,
//			}},
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//	}
//
// Workers are forked by re-executing the running binary with the same
// arguments. Socket-sharing workers inherit every listener the primary opened
// through Listen; isolated workers inherit nothing. Crashed workers are not
// restarted.
package procgroup
