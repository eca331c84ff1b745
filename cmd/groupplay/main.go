package main

import "github.com/avpeers/groupplay/cmd/groupplay/cmd"

func main() {
	cmd.Execute()
}
