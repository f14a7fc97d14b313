package main

import (
	_ "time/tzdata"

	"github.com/trainu/coach-inbox/cmd"
)

func main() {
	cmd.Execute()
}
