// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// ReadPassphrase reads a passphrase from path, or the first line of
// stdin when path is "-". Surrounding whitespace is trimmed. The heap
// copies read from the source are zeroed before returning.
func ReadPassphrase(path string) (*Buffer, error) {
	if path == "-" {
		return readFirstLine(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase file: %w", err)
	}
	defer Zero(data)
	return trimmed(data)
}

func readFirstLine(r io.Reader) (*Buffer, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		return nil, fmt.Errorf("passphrase input is empty")
	}
	line := scanner.Bytes()
	defer Zero(line)
	return trimmed(line)
}

func trimmed(data []byte) (*Buffer, error) {
	value := bytes.TrimSpace(data)
	if len(value) == 0 {
		return nil, fmt.Errorf("passphrase is empty")
	}
	return NewFromBytes(value)
}
