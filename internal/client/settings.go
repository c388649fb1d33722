package client

import (
	"context"
	"fmt"
	"strconv"
)

// SettingsAPI reads and writes server settings through a Client.
type SettingsAPI struct {
	Client Client
}

func (s SettingsAPI) find(ctx context.Context, name string) (*Entity, error) {
	found, err := s.Client.Search(ctx, KindSetting, fmt.Sprintf("name = %s", strconv.Quote(name)))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, &RemoteOperationError{Op: "search", Kind: KindSetting, Message: fmt.Sprintf("setting %q", name), Err: ErrNotFound}
	}
	return found[0], nil
}

// SettingValue returns the current value of a named setting.
func (s SettingsAPI) SettingValue(ctx context.Context, name string) (any, error) {
	e, err := s.find(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.Attrs["value"], nil
}

// SetSettingValue updates a named setting.
func (s SettingsAPI) SetSettingValue(ctx context.Context, name string, value any) error {
	e, err := s.find(ctx, name)
	if err != nil {
		return err
	}
	_, err = s.Client.Update(ctx, KindSetting, e.ID, Attrs{"value": value})
	return err
}
