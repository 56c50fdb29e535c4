package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cdphost/bridge/internal/cdperr"
)

type elementQueryArgs struct {
	Selector string `json:"selector"`
	ScopeID  int64  `json:"scope_node_id"`
}

func handleElementQuery(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a elementQueryArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	return bt.prims.Query(ctx, a.Selector, a.ScopeID)
}

func handleElementQueryAll(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a elementQueryArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	return bt.prims.QueryAll(ctx, a.Selector, a.ScopeID)
}

type nodeRefArgs struct {
	NodeID            int64  `json:"node_id"`
	DocVersionAtQuery uint64 `json:"doc_version_at_query"`
}

func (a nodeRefArgs) checkFresh(bt *boundTarget) error {
	if a.NodeID == 0 {
		return fmt.Errorf("%w: node_id is required", cdperr.BadArguments)
	}
	return bt.prims.EnsureFresh(a.DocVersionAtQuery)
}

func handleElementScrollIntoView(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a nodeRefArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if err := a.checkFresh(bt); err != nil {
		return nil, err
	}
	return bt.sess.Send(ctx, "DOM.scrollIntoViewIfNeeded", map[string]interface{}{"nodeId": a.NodeID})
}

func handleElementBoxModel(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a nodeRefArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if err := a.checkFresh(bt); err != nil {
		return nil, err
	}
	return bt.sess.Send(ctx, "DOM.getBoxModel", map[string]interface{}{"nodeId": a.NodeID})
}

func handleElementFocus(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a nodeRefArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if err := a.checkFresh(bt); err != nil {
		return nil, err
	}
	return bt.sess.Send(ctx, "DOM.focus", map[string]interface{}{"nodeId": a.NodeID})
}

func handleElementHTML(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a nodeRefArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if err := a.checkFresh(bt); err != nil {
		return nil, err
	}
	return bt.sess.Send(ctx, "DOM.getOuterHTML", map[string]interface{}{"nodeId": a.NodeID})
}
