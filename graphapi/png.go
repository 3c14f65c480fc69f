package graphapi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// PngTextChunks returns the keyword/text pairs of every tEXt chunk in a PNG.
// ComfyUI stores the executed prompt under "prompt" and the editor graph under
// "workflow".
func PngTextChunks(r io.Reader) (map[string]string, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, pngSignature) {
		return nil, errors.New("not a valid PNG file")
	}

	retv := make(map[string]string)
	for {
		var length uint32
		err := binary.Read(r, binary.BigEndian, &length)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		chunkType := make([]byte, 4)
		if _, err := io.ReadFull(r, chunkType); err != nil {
			return nil, err
		}

		switch string(chunkType) {
		case "tEXt":
			data := make([]byte, length)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, err
			}
			keywordEnd := bytes.IndexByte(data, 0)
			if keywordEnd == -1 {
				return nil, errors.New("malformed tEXt chunk")
			}
			retv[string(data[:keywordEnd])] = string(data[keywordEnd+1:])
		case "IEND":
			return retv, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
				return nil, err
			}
		}

		// crc
		if _, err := io.CopyN(io.Discard, r, 4); err != nil {
			return nil, err
		}
	}
	return retv, nil
}

// PromptFromPNG recovers the graph that produced a ComfyUI generated PNG.
func PromptFromPNG(r io.Reader) (*WorkflowGraph, error) {
	chunks, err := PngTextChunks(r)
	if err != nil {
		return nil, err
	}
	p, ok := chunks["prompt"]
	if !ok {
		return nil, errors.New("png has no prompt metadata")
	}
	return ParsePrompt([]byte(p))
}
