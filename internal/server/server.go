package server

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"respcore/internal/command"
	"respcore/internal/eventloop"
	"respcore/internal/replication"
	"respcore/internal/session"
	"respcore/internal/snapshot"
	"respcore/internal/store"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server owns every long-lived piece of the process: the key-value
// engine, the replication controller and the stream coordinator. The
// event loop itself is created and run inside Start, which returns only
// once the loop stops.
type Server struct {
	cfg     Config
	info    *Info
	engine  *store.Engine
	repl    *replication.Controller
	streams *replication.StreamCoordinator

	// listenerFile/masterFile retain the *os.File that fileDescriptor/
	// fileDescriptorFromConn dup the raw fd from. They are never read
	// again after Start wires the fd into the event loop, but they must
	// stay reachable for the process lifetime: an *os.File closes its fd
	// via a GC finalizer once unreachable, which would otherwise pull the
	// listener or master-connection fd out from under epoll at a random
	// later GC.
	listenerFile *os.File
	masterFile   *os.File
}

func New(cfg Config) *Server {
	engine := store.NewEngine()
	return &Server{
		cfg:     cfg,
		info:    NewInfo(cfg),
		engine:  engine,
		repl:    replication.New(),
		streams: replication.NewStreamCoordinator(engine),
	}
}

// Start loads any on-disk snapshot, binds the listener, performs the
// replica handshake if configured, and runs the event loop until stop is
// closed.
func (s *Server) Start(stop <-chan struct{}) error {
	if err := s.loadSnapshotFromDisk(); err != nil {
		log.Warn().Err(err).Msg("no snapshot loaded at startup")
	}

	interp := command.New(s.engine, &command.Info{
		Role:       s.info.Role,
		ReplID:     s.info.ReplID,
		ReplOffset: s.info.ReplOffset,
		Dir:        s.info.Dir,
		DBFilename: s.info.DBFilename,
	})
	dispatcher := session.NewDispatcher(interp, s.repl, s.engine, s.streams)
	dispatcher.IsReplicaOf = s.cfg.IsReplica()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return errors.Wrap(err, "binding listener")
	}
	defer ln.Close()

	listenerFd, listenerFile, err := fileDescriptor(ln)
	if err != nil {
		return errors.Wrap(err, "extracting listener fd")
	}
	s.listenerFile = listenerFile

	loop, err := eventloop.New(listenerFd, dispatcher, s.repl, s.streams, s.info.ReplID, s.snapshotBytes)
	if err != nil {
		return errors.Wrap(err, "creating event loop")
	}

	if s.cfg.IsReplica() {
		if err := s.runHandshake(loop); err != nil {
			return errors.Wrap(err, "replica handshake")
		}
	}

	log.Info().Int("port", s.cfg.Port).Str("role", s.info.Role).Msg("server ready")
	return loop.Run(stop)
}

func (s *Server) runHandshake(loop *eventloop.Loop) error {
	masterAddr, err := s.cfg.MasterAddr()
	if err != nil {
		return err
	}
	result, err := replication.Handshake(masterAddr, s.cfg.Port, s.engine, snapshot.RDBLoader{})
	if err != nil {
		return err
	}
	session.SetProcessedBytesSource(loop.MasterProcessedBytes)

	fd, masterFile, err := fileDescriptorFromConn(result.Conn)
	if err != nil {
		return err
	}
	s.masterFile = masterFile
	return loop.AddMasterConn(fd, result.Leftover)
}

func (s *Server) loadSnapshotFromDisk() error {
	path := filepath.Join(s.cfg.Dir, s.cfg.DBFilename)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := (snapshot.RDBLoader{}).Load(f)
	if err != nil {
		return err
	}
	for _, rec := range records {
		s.engine.LoadSnapshotRecord(rec.Key, rec.Value, rec.ExpiresAtUnixMs)
	}
	return nil
}

// snapshotBytes encodes the current key space for a PSYNC reply. The
// master may pace this relative to the FULLRESYNC reply to coalesce
// writes; that pacing is left to the caller.
func (s *Server) snapshotBytes() []byte {
	keys := s.engine.Keys("*")
	records := make([]snapshot.Record, 0, len(keys))
	for _, k := range keys {
		if s.engine.TypeOf(k) != "string" {
			continue
		}
		v, ok, _ := s.engine.Get(k)
		if !ok {
			continue
		}
		records = append(records, snapshot.Record{Key: k, Value: v})
	}
	return snapshot.Encode(records)
}
