package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with request and principal attributes carried in
// the context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("user_agent", rd.UserAgent),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if pd, ok := ctx.Value(principalDataKey{}).(*PrincipalData); ok {
		r.AddAttrs(slog.Group("principal",
			slog.String("sub", pd.Subject),
			slog.String("username", pd.Username),
			slog.String("source", pd.Source),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

// New wraps l so that context attributes are emitted. Loggers that are
// already wrapped are returned as is.
func New(l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	if _, ok := l.Handler().(Handler); ok {
		return l
	}
	return slog.New(Handler{Handler: l.Handler()})
}

type requestDataKey struct{}

type RequestData struct {
	RequestID  string
	Method     string
	UserAgent  string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

// RequestDataFrom returns the request data stored in ctx, if any.
func RequestDataFrom(ctx context.Context) (*RequestData, bool) {
	rd, ok := ctx.Value(requestDataKey{}).(*RequestData)
	return rd, ok
}

type principalDataKey struct{}

// PrincipalData identifies the caller in logs. It never carries credentials.
type PrincipalData struct {
	Subject  string
	Username string
	Source   string
}

func WithPrincipalData(ctx context.Context, data *PrincipalData) context.Context {
	return context.WithValue(ctx, principalDataKey{}, data)
}
