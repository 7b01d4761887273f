package server

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mpapenbr/iracelog-gap-engine/pkg/server/auth"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/service/engine"
)

const (
	GapServiceName     = "igap.v1.GapService"
	GetReportProcedure = "/" + GapServiceName + "/GetReport"
	ResetProcedure     = "/" + GapServiceName + "/Reset"
)

var ErrNoReport = errors.New("no report available")

type gapService struct {
	engine *engine.Engine
}

// GetReport returns the latest report as generic struct (see model.PositionReport.Struct)
//
//nolint:whitespace // can't make both editor and linter happy
func (s *gapService) GetReport(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	r := s.engine.Processor().Latest()
	if r == nil {
		return nil, connect.NewError(connect.CodeNotFound, ErrNoReport)
	}
	ret, err := r.Struct(0)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(ret), nil
}

//nolint:whitespace // can't make both editor and linter happy
func (s *gapService) Reset(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[emptypb.Empty], error) {
	if !auth.HasRole(ctx, auth.RoleProvider) {
		return nil, connect.NewError(connect.CodePermissionDenied, auth.ErrPermissionDenied)
	}
	s.engine.Processor().Reset(ctx)
	return connect.NewResponse(&emptypb.Empty{}), nil
}
