package main

import "github.com/theirongolddev/budwatch/cmd"

func main() {
	cmd.Execute()
}
