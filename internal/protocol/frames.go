// Package protocol defines the frames exchanged between the sync engine and
// the fan-out hub. All frames are JSON text messages except record downloads,
// which travel as one binary zip per response.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/clipsync/internal/common"
)

type FrameType string

const (
	// client → server
	FrameCheckVersion    FrameType = "check_version"
	FrameCheckVersionArr FrameType = "check_version_arr"
	FrameData            FrameType = "data"
	FrameRemove          FrameType = "remove"

	// server → client
	FrameUpdated  FrameType = "updated"
	FrameOutdated FrameType = "outdated"
	FrameSuccess  FrameType = "success"
	FramePrune    FrameType = "prune"
	FrameError    FrameType = "error"
)

// MaxFrameSize caps a single upload; the hub closes sessions that exceed it.
const MaxFrameSize = 100 << 20

// Frame is the single wire envelope. Which fields are meaningful depends on
// Type; unused fields are omitted from the encoding.
type Frame struct {
	Type FrameType `json:"type"`

	// ID names the record a frame pertains to: the stream tip for
	// check_version, the proposed id for data, the victim for remove.
	ID  string   `json:"id,omitempty"`
	IDs []string `json:"ids,omitempty"`

	// Payload carries the record document, possibly ciphertext.
	// encoding/json base64s it on the wire.
	Payload []byte `json:"payload,omitempty"`

	// Last marks the final mutation of a batch; the hub broadcasts
	// "outdated" to the user's other sessions only after persisting it.
	Last bool `json:"last,omitempty"`

	// IsEditOf carries the superseded id when a data frame is a rewrite.
	IsEditOf string `json:"is_edit_of,omitempty"`

	// Old/New map the client-proposed id to the server-assigned one.
	Old string `json:"old,omitempty"`
	New string `json:"new,omitempty"`

	Msg string `json:"msg,omitempty"`
}

func CheckVersion(id string) Frame        { return Frame{Type: FrameCheckVersion, ID: id} }
func CheckVersionArr(ids []string) Frame  { return Frame{Type: FrameCheckVersionArr, IDs: ids} }
func Updated() Frame                      { return Frame{Type: FrameUpdated} }
func Outdated() Frame                     { return Frame{Type: FrameOutdated} }
func Success(old, new string) Frame       { return Frame{Type: FrameSuccess, Old: old, New: new} }
func Prune(ids []string) Frame            { return Frame{Type: FramePrune, IDs: ids} }
func Errorf(format string, a ...any) Frame {
	return Frame{Type: FrameError, Msg: fmt.Sprintf(format, a...)}
}

func Data(id string, payload []byte, last bool, isEditOf string) Frame {
	return Frame{Type: FrameData, ID: id, Payload: payload, Last: last, IsEditOf: isEditOf}
}

func Remove(id string, last bool) Frame {
	return Frame{Type: FrameRemove, ID: id, Last: last}
}

func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses a text frame and rejects unknown variants so a malformed
// peer fails fast instead of being half-understood.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Type {
	case FrameCheckVersion, FrameCheckVersionArr, FrameData, FrameRemove,
		FrameUpdated, FrameOutdated, FrameSuccess, FramePrune, FrameError:
		return f, nil
	default:
		return Frame{}, fmt.Errorf("%w: %q", common.ErrUnknownFrame, f.Type)
	}
}
