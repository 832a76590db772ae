package postgres

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/jackc/pgx/v5"

	"github.com/dukepan/muclumbus/internal/crawlerr"
)

const (
	maxAvatarBytes = 1 << 20 // 1 MiB, spec §4.1
	maxVectorBytes = 64 << 10
	avatarMaxEdge  = 64
	mimeSVG        = "image/svg+xml"
	mimePNG        = "image/png"
)

type avatarResizeTask struct {
	data   []byte
	result chan avatarResizeResult
}

type avatarResizeResult struct {
	data []byte
	err  error
}

// processAvatarResizeTask is the workerpool.Processor bridging CPU-bound
// raster scaling off whatever goroutine is handling the incoming avatar
// update, so a burst of avatar pushes cannot starve the Store's other
// transactional work (spec §5's resource-isolation principle).
func processAvatarResizeTask(_ context.Context, item any) error {
	task, ok := item.(*avatarResizeTask)
	if !ok {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(task.data))
	if err != nil {
		task.result <- avatarResizeResult{err: crawlerr.Wrap(crawlerr.KindValidation, "decode avatar image", err)}
		return nil
	}
	resized := imaging.Fit(img, avatarMaxEdge, avatarMaxEdge, imaging.Lanczos)
	var buf bytes.Buffer
	if err := png.Encode(&buf, resized); err != nil {
		task.result <- avatarResizeResult{err: crawlerr.Wrap(crawlerr.KindStorage, "encode avatar png", err)}
		return nil
	}
	task.result <- avatarResizeResult{data: buf.Bytes()}
	return nil
}

// UpdateMUCAvatar stores a room's avatar, scaling raster images down to a
// thumbnail and passing small vector images through unchanged, and is a
// silent no-op for rooms that are not (yet) PublicRoom entries, per
// spec.md §4.1.
func (s *Store) UpdateMUCAvatar(ctx context.Context, addr string, mimeType string, data []byte) error {
	if len(data) > maxAvatarBytes {
		return crawlerr.Wrap(crawlerr.KindValidation, "avatar exceeds maximum size", nil)
	}

	_, _, isPublic, err := s.GetPublicRoomView(ctx, addr)
	if err != nil {
		return err
	}
	if !isPublic {
		return nil
	}

	newHash := sha256Hex(data)

	var currentHash string
	err = s.pool.QueryRow(ctx, `SELECT hash FROM avatar WHERE address = $1`, addr).Scan(&currentHash)
	if err != nil && err != pgx.ErrNoRows {
		return err
	}
	if currentHash == newHash {
		return nil // unchanged, matches spec's hash-compare no-op
	}

	stored := data
	storedMime := mimeType

	if mimeType == mimeSVG {
		if len(data) > maxVectorBytes {
			return crawlerr.Wrap(crawlerr.KindValidation, "vector avatar exceeds maximum size", nil)
		}
	} else {
		result, err := s.resizeAvatar(ctx, data)
		if err != nil {
			return err
		}
		stored = result
		storedMime = mimePNG
		newHash = sha256Hex(stored)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO avatar (address, last_updated, mime_type, hash, data)
		VALUES ($1, now(), $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			last_updated = EXCLUDED.last_updated,
			mime_type = EXCLUDED.mime_type,
			hash = EXCLUDED.hash,
			data = EXCLUDED.data`,
		addr, storedMime, newHash, stored)
	return err
}

func (s *Store) resizeAvatar(ctx context.Context, data []byte) ([]byte, error) {
	task := &avatarResizeTask{data: data, result: make(chan avatarResizeResult, 1)}
	if err := s.avatarPool.Enqueue(ctx, task); err != nil {
		return nil, crawlerr.Wrap(crawlerr.KindTransientRemote, "avatar resize queue", err)
	}
	select {
	case result := <-task.result:
		return result.data, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
