package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sushant-115/gojobuf/core/write_engine/bufferpool"
	flushmanager "github.com/sushant-115/gojobuf/core/write_engine/flush_manager"
)

// shell runs commands against one buffer manager. Handles are numbered per
// session so they can be referred to by later commands.
type shell struct {
	mgr     *bufferpool.BufferManager
	dataDir string
	out     io.Writer

	handles map[int]*bufferpool.PageHandle
	next    int
}

func newShell(mgr *bufferpool.BufferManager, dataDir string, out io.Writer) *shell {
	return &shell{mgr: mgr, dataDir: dataDir, out: out, handles: make(map[int]*bufferpool.PageHandle)}
}

func (s *shell) table(name string) flushmanager.Table {
	return flushmanager.NewTable(name, filepath.Join(s.dataDir, name+".tbl"))
}

func (s *shell) track(h *bufferpool.PageHandle) {
	s.next++
	s.handles[s.next] = h
	fmt.Fprintf(s.out, "h%d -> %s\n", s.next, h.Page())
}

func (s *shell) handle(arg string) (*bufferpool.PageHandle, int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(arg, "h"))
	if err != nil {
		return nil, 0, fmt.Errorf("bad handle %q", arg)
	}
	h, ok := s.handles[n]
	if !ok {
		return nil, 0, fmt.Errorf("no handle h%d", n)
	}
	return h, n, nil
}

func tablePage(args []string) (string, int64, error) {
	if len(args) < 3 {
		return "", 0, fmt.Errorf("%s requires <table> <index>", args[0])
	}
	index, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("bad page index %q", args[2])
	}
	return args[1], index, nil
}

// exec runs one command. It reports quit for exit/quit.
func (s *shell) exec(ctx context.Context, args []string) (quit bool, err error) {
	if len(args) == 0 {
		return false, nil
	}

	switch strings.ToLower(args[0]) {
	case "get", "pin":
		name, index, err := tablePage(args)
		if err != nil {
			return false, err
		}
		var h *bufferpool.PageHandle
		if strings.EqualFold(args[0], "pin") {
			h, err = s.mgr.GetPinnedPage(ctx, s.table(name), index)
		} else {
			h, err = s.mgr.GetPage(ctx, s.table(name), index)
		}
		if err != nil {
			return false, err
		}
		s.track(h)
	case "anon", "pinanon":
		var h *bufferpool.PageHandle
		if strings.EqualFold(args[0], "pinanon") {
			h, err = s.mgr.GetPinnedAnonPage(ctx)
		} else {
			h, err = s.mgr.GetAnonPage(ctx)
		}
		if err != nil {
			return false, err
		}
		s.track(h)
	case "read":
		if len(args) < 2 {
			return false, fmt.Errorf("read requires <handle>")
		}
		h, _, err := s.handle(args[1])
		if err != nil {
			return false, err
		}
		b, err := h.Bytes(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "%q\n", bytes.TrimRight(b, "\x00"))
	case "write":
		if len(args) < 3 {
			return false, fmt.Errorf("write requires <handle> <text>")
		}
		h, _, err := s.handle(args[1])
		if err != nil {
			return false, err
		}
		b, err := h.Bytes(ctx)
		if err != nil {
			return false, err
		}
		text := strings.Join(args[2:], " ")
		n := copy(b, text)
		clear(b[n:])
		h.WroteBytes()
		fmt.Fprintf(s.out, "wrote %d bytes\n", n)
	case "unpin":
		if len(args) < 2 {
			return false, fmt.Errorf("unpin requires <handle>")
		}
		h, _, err := s.handle(args[1])
		if err != nil {
			return false, err
		}
		h.Unpin()
	case "release":
		if len(args) < 2 {
			return false, fmt.Errorf("release requires <handle>")
		}
		h, n, err := s.handle(args[1])
		if err != nil {
			return false, err
		}
		h.Release()
		delete(s.handles, n)
	case "flush":
		if err := s.mgr.FlushAll(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "flushed")
	case "stats":
		st := s.mgr.Stats()
		fmt.Fprintf(s.out, "blocks:   %d/%d free, page size %d\n", st.FreeBlocks, st.Capacity, st.PageSize)
		fmt.Fprintf(s.out, "pages:    %d tracked, %d anonymous, %d resident (%d pinned, %d cached, %d dirty)\n",
			st.TrackedPages, st.AnonPages, st.ResidentPages, st.PinnedPages, st.CachedPages, st.DirtyPages)
		fmt.Fprintf(s.out, "accesses: %d fast, %d warm, %d cold\n", st.FastPathHits, st.WarmAccesses, st.ColdLoads)
		fmt.Fprintf(s.out, "evicted:  %d (%d written back), exhausted %d times\n", st.Evictions, st.WriteBacks, st.Exhaustions)
	case "help":
		fmt.Fprintln(s.out, "Commands:")
		fmt.Fprintln(s.out, "  get <table> <index>     handle to a table page")
		fmt.Fprintln(s.out, "  pin <table> <index>     pinned handle to a table page")
		fmt.Fprintln(s.out, "  anon | pinanon          handle to a new temp page")
		fmt.Fprintln(s.out, "  read <h>                print a page")
		fmt.Fprintln(s.out, "  write <h> <text>        overwrite a page")
		fmt.Fprintln(s.out, "  unpin <h> | release <h>")
		fmt.Fprintln(s.out, "  flush | stats | help | exit")
	case "exit", "quit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q, type 'help' for a list of commands", args[0])
	}
	return false, nil
}

// releaseAll drops every handle the session still holds.
func (s *shell) releaseAll() {
	for n, h := range s.handles {
		h.Release()
		delete(s.handles, n)
	}
}
