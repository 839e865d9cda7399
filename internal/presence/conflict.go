package presence

// Decision is the outcome of asking whether the local actor may start
// editing an item. Denial is not an error: it is the normal signal to route
// the UI to its read-only fallback, with Editors populated for the presence
// badge.
type Decision struct {
	Allowed bool
	Editors []Record
}

// Resolver arbitrates soft edit locks over the aggregated roster. The lock
// is advisory: it gates concurrent edit surfaces, not writes at the data
// layer. There is no queue and no request-to-edit handshake; a denied actor
// may simply retry.
type Resolver struct {
	agg *Aggregator
}

func NewResolver(agg *Aggregator) *Resolver {
	return &Resolver{agg: agg}
}

// CheckEdit reports whether localActor may start editing itemID in the given
// scope. Two actors racing within the propagation window can both be allowed
// transiently; the aggregator's last-write-wins merge converges the roster on
// the next sync, which is the accepted limit of a soft lock.
func (r *Resolver) CheckEdit(scopeID, itemID, localActor string) Decision {
	editors := r.Editors(scopeID, itemID, localActor)
	return Decision{Allowed: len(editors) == 0, Editors: editors}
}

// Editors returns every other live actor currently editing the item.
func (r *Resolver) Editors(scopeID, itemID, localActor string) []Record {
	var editors []Record
	for _, rec := range r.agg.RosterFor(scopeID) {
		if rec.ActorID == localActor {
			continue
		}
		if rec.Status == StatusEditing && rec.EditingItemID == itemID {
			editors = append(editors, rec)
		}
	}
	return editors
}
