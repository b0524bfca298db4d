// Command phobosexec is the executive of the Phobos rover.
package main

import "github.com/phobosrover/phobosexec/phobosexec/cmd"

func main() {
	cmd.Execute()
}
