package storage

import (
	"io"
	"os"
	"sync"

	"github.com/ncw/directio"
)

// Writer is a wrapper around a directio file. It writes data to the file in
// multiples of the block size; any data that is not a multiple of the block
// size is written to the file in the next block with padding.
type Writer struct {
	name  string
	file  *os.File
	block int
}

var once sync.Once

// NewWriter opens name with the given os.OpenFile flag using direct I/O.
func NewWriter(name string, flag int) (*Writer, error) {
	file, err := directio.OpenFile(name, flag, 0755)
	if err != nil {
		return nil, err
	}

	block := directio.BlockSize
	once.Do(func() {
		block = len(directio.AlignedBlock(directio.BlockSize))
	})

	return &Writer{
		name:  name,
		file:  file,
		block: block,
	}, nil
}

var _ io.WriteCloser = (*Writer)(nil)

// Name returns the path this writer was opened with.
func (f *Writer) Name() string {
	return f.name
}

// Write writes in multiples of the block size. If the data is not a multiple
// of the block size, it is written to the file in the next block with
// padding. It returns the number of blocks written to the file, which is
// useful for callers that track block offsets for a footer or index.
func (f *Writer) Write(buf []byte) (n int, err error) {
	if len(buf) == 0 {
		return 0, nil
	}

	blocks := len(buf) / f.block
	rem := len(buf) % f.block

	if rem > 0 {
		// Write the entire slice except the last block, which will be padded.
		n, err = f.file.Write(buf[:len(buf)-rem])
		if err != nil {
			return n, err
		}

		// Write the last block with padding.
		var p int
		pad := make([]byte, f.block-rem)
		p, err = f.file.Write(append(buf[len(buf)-rem:], pad...))
		if err != nil {
			return n + p, err
		}

		return blocks + 1, nil
	}

	// Safe to write the entire slice.
	n, err = f.file.Write(buf)
	if err != nil {
		return n, err
	}

	return blocks, nil
}

// Sync flushes the file to stable storage.
func (f *Writer) Sync() error {
	return f.file.Sync()
}

func (f *Writer) Close() error {
	return f.file.Close()
}
