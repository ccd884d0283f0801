// Package logging provides structured logging for corpusd.
//
// It wraps Zap with:
//   - JSON or console output to stdout
//   - Automatic context field injection (trace_id, owner, document, request)
//   - Constant service fields from configuration
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync(logger)
//
// Correlation fields travel on the context:
//
//	ctx = logging.WithOwnerID(ctx, "acme")
//	ctx = logging.WithDocumentID(ctx, docID)
//	logger.Info("document enqueued", logging.ContextFields(ctx)...)
package logging
