package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cdphost/bridge/internal/cdperr"
	"github.com/cdphost/bridge/internal/primitives"
)

type computerArgs struct {
	Action string  `json:"action"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Text   string  `json:"text"`
	Key    string  `json:"key"`
	DeltaX float64 `json:"delta_x"`
	DeltaY float64 `json:"delta_y"`
	Ms     int64   `json:"ms"`
}

// handleComputer dispatches the "computer" tool's action enum to the
// matching Input/Page CDP commands.
func handleComputer(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a computerArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}

	switch a.Action {
	case "screenshot":
		return captureScreenshot(ctx, bt)
	case "left_click", "double_click":
		clickCount := 1
		if a.Action == "double_click" {
			clickCount = 2
		}
		for _, typ := range []string{"mousePressed", "mouseReleased"} {
			if _, err := bt.sess.Send(ctx, "Input.dispatchMouseEvent", map[string]interface{}{
				"type": typ, "x": a.X, "y": a.Y, "button": "left", "clickCount": clickCount,
			}); err != nil {
				return nil, err
			}
		}
		return map[string]interface{}{"clicked": true}, nil
	case "type":
		return bt.sess.Send(ctx, "Input.insertText", map[string]interface{}{"text": a.Text})
	case "key":
		down, up := encodeKeyPress(a.Key)
		if _, err := bt.sess.Send(ctx, "Input.dispatchKeyEvent", down); err != nil {
			return nil, err
		}
		if _, err := bt.sess.Send(ctx, "Input.dispatchKeyEvent", up); err != nil {
			return nil, err
		}
		return map[string]interface{}{"pressed": a.Key}, nil
	case "scroll":
		return bt.sess.Send(ctx, "Input.dispatchMouseEvent", map[string]interface{}{
			"type": "mouseWheel", "x": a.X, "y": a.Y, "deltaX": a.DeltaX, "deltaY": a.DeltaY,
		})
	case "wait":
		d := time.Duration(a.Ms) * time.Millisecond
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return map[string]interface{}{"waited_ms": a.Ms}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	default:
		return nil, fmt.Errorf("%w: unknown computer action %q", cdperr.BadArguments, a.Action)
	}
}

// captureScreenshot takes a PNG screenshot and re-wraps CDP's raw
// {"data": base64} result into spec.md §4.6's structured binary payload
// shape ({type, data, media_type}) rather than handing the CDP response back
// unchanged.
func captureScreenshot(ctx context.Context, bt *boundTarget) (interface{}, error) {
	res, err := bt.sess.Send(ctx, "Page.captureScreenshot", map[string]interface{}{"format": "png"})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(res, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode Page.captureScreenshot result", cdperr.Internal)
	}
	return map[string]interface{}{
		"type":       "image",
		"data":       payload.Data,
		"media_type": "image/png",
	}, nil
}

// handleFind is a thin alias over element_query: the catalogue of tool
// argument schemas is specified by the client proxy, not this layer
// (spec.md §1's out-of-scope list), so find accepts the same selector shape.
func handleFind(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	return handleElementQuery(ctx, bt, args)
}

type formInputArgs struct {
	NodeID            int64  `json:"node_id"`
	DocVersionAtQuery uint64 `json:"doc_version_at_query"`
	Value             string `json:"value"`
}

func handleFormInput(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a formInputArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	ref := nodeRefArgs{NodeID: a.NodeID, DocVersionAtQuery: a.DocVersionAtQuery}
	if err := ref.checkFresh(bt); err != nil {
		return nil, err
	}
	if _, err := bt.sess.Send(ctx, "DOM.focus", map[string]interface{}{"nodeId": a.NodeID}); err != nil {
		return nil, err
	}
	return bt.sess.Send(ctx, "Input.insertText", map[string]interface{}{"text": a.Value})
}

// handleGetPageText returns the page's visible text, or, for a document
// served as application/pdf, the text extracted from the rendered PDF
// (spec.md §6's get_page_text/read_page note on PDF-aware extraction).
func handleGetPageText(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	res, err := bt.sess.Send(ctx, "Runtime.evaluate", map[string]interface{}{
		"expression":    "document.contentType",
		"returnByValue": true,
	})
	if err != nil {
		return nil, err
	}
	var evalRes struct {
		Result struct {
			Value string `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(res, &evalRes); err != nil {
		return nil, fmt.Errorf("%w: decode Runtime.evaluate result", cdperr.Internal)
	}

	if evalRes.Result.Value != "application/pdf" {
		res, err := bt.sess.Send(ctx, "Runtime.evaluate", map[string]interface{}{
			"expression":    "document.body ? document.body.innerText : ''",
			"returnByValue": true,
		})
		if err != nil {
			return nil, err
		}
		var textRes struct {
			Result struct {
				Value string `json:"value"`
			} `json:"result"`
		}
		if err := json.Unmarshal(res, &textRes); err != nil {
			return nil, fmt.Errorf("%w: decode Runtime.evaluate result", cdperr.Internal)
		}
		return map[string]interface{}{"text": textRes.Result.Value, "content_type": "text"}, nil
	}

	pdfRes, err := bt.sess.Send(ctx, "Page.printToPDF", map[string]interface{}{"printBackground": true})
	if err != nil {
		return nil, err
	}
	var pdfPayload struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(pdfRes, &pdfPayload); err != nil {
		return nil, fmt.Errorf("%w: decode Page.printToPDF result", cdperr.Internal)
	}
	pdfBytes, err := base64.StdEncoding.DecodeString(pdfPayload.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode PDF payload", cdperr.Internal)
	}
	text, err := primitives.ExtractPDFText(pdfBytes)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"text": text, "content_type": "application/pdf"}, nil
}

func handleJavaScriptTool(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a struct {
		Expression string `json:"expression"`
	}
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	return bt.sess.Send(ctx, "Runtime.evaluate", map[string]interface{}{
		"expression": a.Expression, "returnByValue": true, "awaitPromise": true,
	})
}
