package main

import "github.com/mpapenbr/iracelog-gap-engine/cmd"

func main() {
	cmd.Execute()
}
