package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cdphost/bridge/internal/cdperr"
	"github.com/cdphost/bridge/internal/primitives"
)

type dialogHandleArgs struct {
	Accept     bool   `json:"accept"`
	PromptText string `json:"prompt_text"`
}

func handleDialogHandle(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a dialogHandleArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	params := map[string]interface{}{"accept": a.Accept}
	if a.PromptText != "" {
		params["promptText"] = a.PromptText
	}
	return bt.sess.Send(ctx, "Page.handleJavaScriptDialog", params)
}

type dialogWaitArgs struct {
	TimeoutMs  int64  `json:"timeout_ms"`
	AutoHandle bool   `json:"auto_handle"`
	Accept     bool   `json:"accept"`
	PromptText string `json:"prompt_text"`
}

func handleDialogWait(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a dialogWaitArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	return bt.prims.WaitForDialog(ctx, primitives.WaitForDialogArgs{
		Timeout:    time.Duration(a.TimeoutMs) * time.Millisecond,
		AutoHandle: a.AutoHandle,
		Accept:     a.Accept,
		PromptText: a.PromptText,
	})
}

var mntPathPattern = regexp.MustCompile(`^/mnt/([a-zA-Z])(/.*)?$`)

// translateMountPath turns the sandbox's /mnt/<drive>/... convention into
// the Windows-style path the browser's file-input dialog expects on the
// host, per spec.md §6's file_upload note.
func translateMountPath(p string) string {
	m := mntPathPattern.FindStringSubmatch(p)
	if m == nil {
		return p
	}
	drive := strings.ToUpper(m[1])
	rest := m[2]
	winPath := fmt.Sprintf("%s:", drive)
	for _, r := range rest {
		if r == '/' {
			winPath += `\`
		} else {
			winPath += string(r)
		}
	}
	return winPath
}

type fileUploadArgs struct {
	NodeID            int64    `json:"node_id"`
	DocVersionAtQuery uint64   `json:"doc_version_at_query"`
	Paths             []string `json:"paths"`
}

func handleFileUpload(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a fileUploadArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	ref := nodeRefArgs{NodeID: a.NodeID, DocVersionAtQuery: a.DocVersionAtQuery}
	if err := ref.checkFresh(bt); err != nil {
		return nil, err
	}
	if len(a.Paths) == 0 {
		return nil, fmt.Errorf("%w: paths is required", cdperr.BadArguments)
	}
	translated := make([]string, len(a.Paths))
	for i, p := range a.Paths {
		translated[i] = translateMountPath(p)
	}
	return bt.sess.Send(ctx, "DOM.setFileInputFiles", map[string]interface{}{
		"nodeId": a.NodeID,
		"files":  translated,
	})
}

type fileChooserWaitArgs struct {
	TimeoutMs int64 `json:"timeout_ms"`
}

func handleFileChooserWait(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a fileChooserWaitArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	return bt.prims.WaitForFileChooser(ctx, time.Duration(a.TimeoutMs)*time.Millisecond)
}
