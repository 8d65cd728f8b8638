// Command testmaild runs the SMTP and POP3 test-double mail server.
package main

import (
	"fmt"
	"os"
)

// version is set by the release build; left as "dev" otherwise.
var version = "dev"

func main() {
	if err := Execute(version); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
