package cloneengine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// LocationKind discriminates the two grammars a chunk Location can carry
//.
type LocationKind int

const (
	// LocationS3 identifies a chunk by its data-chunk key in the snapshot
	// data store.
	LocationS3 LocationKind = iota
	// LocationCurve identifies a chunk by a byte offset into an existing
	// curve-format file.
	LocationCurve
)

// Location is the tagged variant every CloneChunkInfo.Location carries.
// Exactly one pair of functions, EncodeLocation/DecodeLocation, produces
// and parses its wire string form, so creators (CreateCloneChunk) and
// recoverers (RecoverChunk) always agree.
type Location struct {
	Kind LocationKind

	// S3Key is set when Kind == LocationS3.
	S3Key string

	// FileName and Offset are set when Kind == LocationCurve.
	FileName string
	Offset   uint64
}

var (
	ErrEmptyS3Key            = errors.New("s3 location requires a non-empty key")
	ErrEmptyCurveName        = errors.New("curve location requires a non-empty file name")
	ErrInvalidLocation       = errors.New("invalid encoded location")
	ErrInvalidLocationOffset = errors.New("invalid curve location offset")
)

const (
	s3Prefix    = "s3://"
	curvePrefix = "cf://"
)

// EncodeLocation renders a Location to its wire string form.
func EncodeLocation(l Location) (string, error) {
	switch l.Kind {
	case LocationS3:
		if l.S3Key == "" {
			return "", ErrEmptyS3Key
		}
		return s3Prefix + l.S3Key, nil
	case LocationCurve:
		if l.FileName == "" {
			return "", ErrEmptyCurveName
		}
		return fmt.Sprintf("%s%s@%d", curvePrefix, l.FileName, l.Offset), nil
	default:
		return "", fmt.Errorf("%w: unknown kind %d", ErrInvalidLocation, l.Kind)
	}
}

// DecodeLocation parses a wire string back into a Location.
func DecodeLocation(s string) (Location, error) {
	switch {
	case strings.HasPrefix(s, s3Prefix):
		key := strings.TrimPrefix(s, s3Prefix)
		if key == "" {
			return Location{}, ErrEmptyS3Key
		}
		return Location{Kind: LocationS3, S3Key: key}, nil
	case strings.HasPrefix(s, curvePrefix):
		rest := strings.TrimPrefix(s, curvePrefix)
		idx := strings.LastIndex(rest, "@")
		if idx == -1 {
			return Location{}, fmt.Errorf("%w: missing offset separator", ErrInvalidLocation)
		}
		name, offsetStr := rest[:idx], rest[idx+1:]
		if name == "" {
			return Location{}, ErrEmptyCurveName
		}
		offset, err := strconv.ParseUint(offsetStr, 10, 64)
		if err != nil {
			return Location{}, fmt.Errorf("%w: %v", ErrInvalidLocationOffset, err)
		}
		return Location{Kind: LocationCurve, FileName: name, Offset: offset}, nil
	default:
		return Location{}, fmt.Errorf("%w: unrecognized prefix", ErrInvalidLocation)
	}
}
