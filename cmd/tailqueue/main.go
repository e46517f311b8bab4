// tailqueue is a headless client: it logs in, joins a playlist room and
// prints the reconciled queue every time it changes
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/log"

	"github.com/queueup/queueup-backend/client"
)

func main() {
	var (
		server   = flag.String("server", "http://localhost:3000", "backend base URL")
		email    = flag.String("email", "", "login email")
		password = flag.String("password", "", "login password")
		playlist = flag.String("playlist", "", "playlist id to follow")
	)
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "tailqueue"})
	if *email == "" || *password == "" || *playlist == "" {
		logger.Fatal("email, password and playlist are required")
	}

	ctx := context.Background()
	token, err := client.Login(ctx, *server, *email, *password)
	if err != nil {
		logger.Fatal("login failed", "err", err)
	}

	feed, err := client.DialSocket(ctx, *server, token)
	if err != nil {
		logger.Fatal("socket dial failed", "err", err)
	}

	api := client.NewHTTPClient(*server, token)
	rec := client.NewReconciler(api, feed, "", client.WithOnChange(printQueue))
	if err := rec.Enter(ctx, *playlist); err != nil {
		logger.Fatal("join failed", "err", err)
	}
	defer rec.Close()
	logger.Info("following playlist", "playlist", *playlist)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt
}

func printQueue(queue []client.Song) {
	fmt.Print("\033[H\033[2J")
	fmt.Printf("%-3s %-5s %-45s %s\n", "#", "votes", "title", "state")
	for i, s := range queue {
		state := ""
		if s.IsPlaying {
			state = "playing"
		}
		title := s.Title
		if len(title) > 45 {
			title = title[:42] + "..."
		}
		fmt.Printf("%-3d %-5d %-45s %s\n", i+1, s.VoteCount, title, state)
	}
}
