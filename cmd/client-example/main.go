// Command client-example is a worked usage of internal/client: it connects
// to an Agent, joins one zone, authors a Message, and prints every object
// event it observes thereafter. It mirrors the worked example in
// original_source/main.py's MyClient/MyAI, translated to this fabric's
// connect/subscribe/save surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pennomi/pastry/internal/client"
	"github.com/pennomi/pastry/internal/do"
	"github.com/pennomi/pastry/internal/logging"
	"github.com/pennomi/pastry/internal/message"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8888", "Agent TCP address")
	token := flag.String("token", "", "JWT bearer token")
	zoneID := flag.String("zone", "chat", "zone id to join")
	text := flag.String("text", "hello from client-example", "text for the Message this client authors")
	flag.Parse()

	logger := logging.New("client-example", "info", "console")

	registry := do.NewRegistry()
	message.Register(registry)

	c := client.New(registry, client.Hooks{
		ObjectCreated: func(obj do.Object) {
			fmt.Printf("created  %s/%s: %v\n", obj.ClassName(), obj.ID(), fieldsOf(obj))
		},
		ObjectUpdated: func(obj do.Object) {
			fmt.Printf("updated  %s/%s: %v\n", obj.ClassName(), obj.ID(), fieldsOf(obj))
		},
		ObjectDeleted: func(obj do.Object) {
			fmt.Printf("deleted  %s/%s\n", obj.ClassName(), obj.ID())
		},
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	credentials, err := json.Marshal(map[string]string{"token": *token})
	if err != nil {
		fmt.Fprintf(os.Stderr, "client-example: encode credentials: %v\n", err)
		os.Exit(1)
	}

	if err := c.Connect(ctx, *addr, credentials); err != nil {
		fmt.Fprintf(os.Stderr, "client-example: connect failed: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()
	fmt.Printf("connected as %s\n", c.ID())

	if err := c.Subscribe(*zoneID); err != nil {
		fmt.Fprintf(os.Stderr, "client-example: subscribe failed: %v\n", err)
		os.Exit(1)
	}

	go func() {
		if err := c.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "client-example: receive loop ended: %v\n", err)
		}
	}()

	msg, err := message.New(*zoneID, *text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client-example: build message: %v\n", err)
		os.Exit(1)
	}
	if err := c.Save(msg); err != nil {
		fmt.Fprintf(os.Stderr, "client-example: save failed: %v\n", err)
		os.Exit(1)
	}

	<-ctx.Done()
}

func fieldsOf(obj do.Object) map[string]any {
	out := map[string]any{}
	for _, name := range obj.Schema().Names() {
		out[name] = obj.Get(name)
	}
	return out
}
