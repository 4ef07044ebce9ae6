package main

import "github.com/fakeyudi/fgtrace/cmd"

func main() {
	cmd.Execute()
}
