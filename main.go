package main

import (
	"github.com/adeverne/kiwiglider/pkg/tasks"
)

func main() {
	tasks.Execute()
}
