package webhook

// RedactData applies the webhook's field visibility rules to submission data.
// IncludeFields, when set, keeps only the named fields; ExcludeFields then
// removes fields from whatever remains. The input map is never mutated.
func (w *Webhook) RedactData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}

	out := make(map[string]any, len(data))

	if len(w.IncludeFields) > 0 {
		for _, f := range w.IncludeFields {
			if v, ok := data[f]; ok {
				out[f] = v
			}
		}
	} else {
		for k, v := range data {
			out[k] = v
		}
	}

	for _, f := range w.ExcludeFields {
		delete(out, f)
	}

	return out
}
