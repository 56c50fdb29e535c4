package dispatcher

import (
	"context"
	"encoding/json"
)

// handleTabsContext lists every discoverable page target, independent of
// any bound session — used by a client to pick a tab_id for later calls.
func (d *Dispatcher) handleTabsContext(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	targets, err := d.reg.List(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"targets": targets}, nil
}

type tabsCreateArgs struct {
	URL string `json:"url"`
}

func (d *Dispatcher) handleTabsCreate(ctx context.Context, bt *boundTarget, args json.RawMessage) (interface{}, error) {
	var a tabsCreateArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	target, err := d.reg.Create(ctx, a.URL)
	if err != nil {
		return nil, err
	}
	return target, nil
}
