// Command entidx inspects and queries entidx snapshots.
//
// Usage:
//
//	entidx inspect --store file:///var/lib/entidx
//	entidx query --store s3://bucket/prefix --collection products \
//	    --filter '{"op":"eq","attr":"color","values":[{"k":4,"s":"red"}]}'
//
// Every flag can also be set through an ENTIDX_ environment variable,
// e.g. ENTIDX_STORE or ENTIDX_LOG_LEVEL.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
