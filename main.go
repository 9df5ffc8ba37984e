package main

import "github.com/rehaani/mediconnect/cmd"

func main() {
	cmd.Execute()
}
