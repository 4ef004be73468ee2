package main

import "github.com/vanpelt/xurl/internal/cmd"

func main() {
	cmd.Execute()
}
