package ota

import (
	"errors"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"gopkg.in/yaml.v3"
)

// ErrManifestMismatch is returned when an image does not match its manifest.
var ErrManifestMismatch = errors.New("ota: image does not match manifest")

// Manifest describes a packaged firmware image so the gateway can check the
// file it is about to broadcast.
type Manifest struct {
	Version     string `yaml:"version"`
	TotalSize   int    `yaml:"total_size"`
	Checksum    string `yaml:"checksum"`
	CID         string `yaml:"cid"`
	ChunkSize   int    `yaml:"chunk_size"`
	TotalChunks int    `yaml:"total_chunks"`
}

// NewManifest describes image as split for wire blocks of blockSize bytes.
func NewManifest(version string, image []byte, blockSize int) (Manifest, error) {
	if len(image) == 0 {
		return Manifest{}, ErrEmptyImage
	}
	capacity, total, err := split(len(image), blockSize)
	if err != nil {
		return Manifest{}, err
	}
	id, err := imageCID(image)
	if err != nil {
		return Manifest{}, err
	}
	return Manifest{
		Version:     version,
		TotalSize:   len(image),
		Checksum:    Checksum(image),
		CID:         id.String(),
		ChunkSize:   capacity,
		TotalChunks: total,
	}, nil
}

// Verify checks size, checksum and content id of image.
func (m Manifest) Verify(image []byte) error {
	if len(image) != m.TotalSize {
		return fmt.Errorf("%w: size %d, want %d", ErrManifestMismatch, len(image), m.TotalSize)
	}
	if sum := Checksum(image); sum != m.Checksum {
		return fmt.Errorf("%w: crc32 %s, want %s", ErrManifestMismatch, sum, m.Checksum)
	}
	want, err := cid.Decode(m.CID)
	if err != nil {
		return fmt.Errorf("manifest cid: %w", err)
	}
	got, err := imageCID(image)
	if err != nil {
		return err
	}
	if !got.Equals(want) {
		return fmt.Errorf("%w: cid %s", ErrManifestMismatch, got)
	}
	return nil
}

// WriteManifest stores m as YAML at path.
func WriteManifest(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadManifest loads a YAML manifest.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return m, nil
}

// Checksum returns the CRC32 of image as 8 upper-case hex digits.
func Checksum(image []byte) string {
	return fmt.Sprintf("%08X", crc32.ChecksumIEEE(image))
}

func imageCID(image []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(image, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("hash image: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}
