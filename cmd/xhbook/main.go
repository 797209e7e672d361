package main

import (
	"os"

	"xhbook/cmd/xhbook/cmd"
	"xhbook/lib/util/serviceutil"
)

func main() {
	os.Exit(cmd.Execute(serviceutil.SignalContext()))
}
