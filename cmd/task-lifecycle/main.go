package main

import "github.com/LENAX/task-lifecycle/pkg/cli/cmd"

func main() {
	cmd.Execute()
}
