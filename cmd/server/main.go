package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"respcore/internal/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

func main() {
	port := flag.Int("port", 6379, "port to listen on")
	replicaOf := flag.String("replicaof", "", "\"<host> <port>\" of the master to replicate, if any")
	dir := flag.String("dir", "/tmp/redis-files", "directory holding the snapshot file")
	dbfilename := flag.String("dbfilename", "dump.rdb", "snapshot file name")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := server.Config{
		Port:       *port,
		ReplicaOf:  *replicaOf,
		Dir:        *dir,
		DBFilename: *dbfilename,
	}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		close(stop)
	}()

	if err := server.New(cfg).Start(stop); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}
