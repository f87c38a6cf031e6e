package main

import (
	"context"
	"parcelharvest/cmd/harvester/commands"
	"parcelharvest/internal/components/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext(context.Background()))
}
