package gtfs

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gogtfs "github.com/OneBusAway/go-gtfs"
	"github.com/klauspost/compress/zip"
	"github.com/zeebo/blake3"

	domain "github.com/bryanwahyu/transit-analyst/internal/domain/bundles"
)

// Parser reads GTFS static archives from local disk.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

// Parse loads the archive at path. The feed id comes from feed_info.txt when
// the feed declares one, otherwise from the file name without extension.
func (p *Parser) Parse(ctx context.Context, path string) (*domain.Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	static, err := gogtfs.ParseStatic(data, gogtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("parse gtfs %s: %w", filepath.Base(path), err)
	}

	id, err := feedID(data)
	if err != nil {
		return nil, fmt.Errorf("read feed_info of %s: %w", filepath.Base(path), err)
	}
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	sum := blake3.Sum256(data)
	feed := &domain.Feed{
		ID:       id,
		FileName: filepath.Base(path),
		Checksum: hex.EncodeToString(sum[:]),
		Stops:    make([]domain.Stop, 0, len(static.Stops)),
	}
	// stops without stop times count toward the center too
	for _, s := range static.Stops {
		if s.Latitude == nil || s.Longitude == nil {
			continue
		}
		feed.Stops = append(feed.Stops, domain.Stop{ID: s.Id, Lat: *s.Latitude, Lon: *s.Longitude})
	}
	return feed, nil
}

func feedID(archive []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return "", err
	}
	for _, f := range zr.File {
		if filepath.Base(f.Name) != "feed_info.txt" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return readFeedID(rc)
	}
	return "", nil
}

func readFeedID(r io.Reader) (string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	col := -1
	for i, name := range header {
		if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) == "feed_id" {
			col = i
			break
		}
	}
	if col < 0 {
		return "", nil
	}
	row, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if col >= len(row) {
		return "", nil
	}
	return strings.TrimSpace(row[col]), nil
}
