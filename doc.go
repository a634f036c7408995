// Package hooks provides the webhook dispatch and delivery-tracking engine
// for Formatic forms.
//
// Hooks is a library, not a service. The Formatic backend embeds an Engine
// and calls Dispatch on form lifecycle events (submission created, updated,
// deleted, form published). The engine fans each event out to the form's
// registered webhooks, signs and delivers the payload, retries failures with
// exponential backoff, and keeps an append-only delivery log for operators.
//
// Key features:
//   - Per-form webhook registry with an admin approval workflow
//   - Durable delivery queue with crash-safe retry resumption
//   - HMAC-SHA256 signature on every delivery
//   - Daily delivery quotas with atomic reservation
//   - JSON Schema filter conditions and field-level payload redaction
//   - Multiple store backends (Postgres, SQLite, Memory)
//
// Quick start:
//
//	eng, err := hooks.New(
//	    hooks.WithStore(memoryStore),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	eng.Start(ctx)
//
//	eng.Dispatch(ctx, &event.Event{
//	    Type:      "submission.created",
//	    FormID:    "form_123",
//	    FormTitle: "Contact form",
//	    Data:      map[string]any{"email": "ada@example.com"},
//	})
package hooks
