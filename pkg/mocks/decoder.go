package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/adeverne/kiwiglider/pkg/decoder"
	"github.com/adeverne/kiwiglider/pkg/deployment"
)

type Decoder struct {
	mock.Mock
}

func (d *Decoder) DecodeDir(ctx context.Context, dir string, mode deployment.Mode) (*decoder.RawData, error) {
	args := d.Called(ctx, dir, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*decoder.RawData), args.Error(1)
}
