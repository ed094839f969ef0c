// Command server runs the account service: sign-up, sessions, second factor
// and the compliance pipeline behind one HTTP listener.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophaccount/internal/server"
	"github.com/dmitrijs2005/gophaccount/internal/server/config"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "account server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	app, err := server.NewApp(ctx, config.LoadConfig())
	if err != nil {
		return err
	}
	app.Run(ctx)
	return nil
}
