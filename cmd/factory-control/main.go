// Command factory-control は在庫・招待・アカウント管理のAPIサーバーとワーカーを起動する。
//
// 使い方:
//
//	factory-control [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/guymaich-jpg/factory-control-sub000/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "factory-control: %v\n", err)
		os.Exit(1)
	}
}
