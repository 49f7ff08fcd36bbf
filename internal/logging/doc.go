// Package logging builds the zap loggers used throughout semindex.
//
// Components accept a *zap.Logger and never construct their own. The root
// logger is created once by New from the observability config; request
// scoped correlation (trace, tenant, request id) is attached with
// ContextFields.
package logging
