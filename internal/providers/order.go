package providers

// NextCandidates rotates order to start immediately after lastTried
// (circular), skipping ids already attempted and de-duplicating. When
// lastTried is absent from order, iteration starts at index 0. Each
// provider therefore appears at most once per escalation round, and the
// provider that just failed is never the first retry target.
func NextCandidates(attempted map[string]bool, order []string, lastTried string) []string {
	if len(order) == 0 {
		return nil
	}

	start := 0
	if lastTried != "" {
		for i, id := range order {
			if id == lastTried {
				start = i + 1
				break
			}
		}
	}

	seen := make(map[string]bool, len(order))
	out := make([]string, 0, len(order))
	for i := 0; i < len(order); i++ {
		id := order[(start+i)%len(order)]
		if seen[id] {
			continue
		}
		if attempted != nil && attempted[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Prefer moves preferred to the front of order when present, keeping the
// relative order of the rest. Unknown ids leave the order untouched.
func Prefer(order []string, preferred string) []string {
	if preferred == "" {
		return order
	}
	found := false
	for _, id := range order {
		if id == preferred {
			found = true
			break
		}
	}
	if !found {
		return order
	}
	out := make([]string, 0, len(order))
	out = append(out, preferred)
	for _, id := range order {
		if id != preferred {
			out = append(out, id)
		}
	}
	return out
}
