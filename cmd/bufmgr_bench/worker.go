package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"github.com/sushant-115/gojobuf/core/write_engine/bufferpool"
	flushmanager "github.com/sushant-115/gojobuf/core/write_engine/flush_manager"
)

type workload struct {
	PagesPerWorker int
	Ops            int
	// PinEvery pins every n-th page touched; 0 never pins.
	PinEvery int
	Seed     uint64
}

// signatureSize is the smallest page a signature fits in.
const signatureSize = 12

// checkPageSize rejects pages too small to carry a signature.
func checkPageSize(pageSize int) error {
	if pageSize < signatureSize {
		return fmt.Errorf("page size %d is too small for the bench, need at least %d bytes", pageSize, signatureSize)
	}
	return nil
}

// signature is what a worker stamps at the start of each page it owns.
type signature struct {
	Worker  uint32
	Page    uint32
	Version uint32
}

func (s signature) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], s.Worker)
	binary.LittleEndian.PutUint32(b[4:], s.Page)
	binary.LittleEndian.PutUint32(b[8:], s.Version)
}

func readSignature(b []byte) signature {
	return signature{
		Worker:  binary.LittleEndian.Uint32(b[0:]),
		Page:    binary.LittleEndian.Uint32(b[4:]),
		Version: binary.LittleEndian.Uint32(b[8:]),
	}
}

// runWorker touches random pages from its own range, writing a new version
// of the page's signature or verifying the last one it wrote.
func runWorker(ctx context.Context, mgr *bufferpool.BufferManager, table flushmanager.Table, worker int, w workload) error {
	if err := checkPageSize(mgr.PageSize()); err != nil {
		return err
	}
	rng := rand.New(rand.NewPCG(w.Seed, uint64(worker)))
	versions := make([]uint32, w.PagesPerWorker)
	base := int64(worker * w.PagesPerWorker)

	for op := 0; op < w.Ops; op++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx := rng.IntN(w.PagesPerWorker)

		var h *bufferpool.PageHandle
		var err error
		pinned := w.PinEvery > 0 && op%w.PinEvery == 0
		if pinned {
			h, err = mgr.GetPinnedPage(ctx, table, base+int64(idx))
		} else {
			h, err = mgr.GetPage(ctx, table, base+int64(idx))
		}
		if err != nil {
			return fmt.Errorf("worker %d page %d: %w", worker, idx, err)
		}

		b, err := h.Bytes(ctx)
		if err != nil {
			h.Release()
			return fmt.Errorf("worker %d page %d: %w", worker, idx, err)
		}
		want := signature{Worker: uint32(worker), Page: uint32(idx), Version: versions[idx]}
		if versions[idx] > 0 {
			if got := readSignature(b); got != want {
				h.Release()
				return fmt.Errorf("worker %d page %d: found %+v, want %+v", worker, idx, got, want)
			}
		}
		if versions[idx] == 0 || rng.IntN(2) == 0 {
			versions[idx]++
			want.Version = versions[idx]
			want.put(b)
			h.WroteBytes()
		}
		if pinned {
			h.Unpin()
		}
		h.Release()
	}
	return nil
}
