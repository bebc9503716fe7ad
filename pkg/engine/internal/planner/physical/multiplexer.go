package physical

// insertMultiplexers feeds every stream read by more than one consumer
// through a Multiplexer. Consumers are connected to successive output ports
// of the multiplexer in the order they are visited.
func insertMultiplexers(roots []NodeKey, p *Plan) {
	var (
		refs     []*Stream
		refcount = make(map[Stream]int)
	)
	visitNodeInputs(roots, p, func(s *Stream) {
		refs = append(refs, s)
		refcount[*s]++
	})

	var (
		muxes    = make(map[Stream]NodeKey)
		nextPort = make(map[NodeKey]int)
	)
	for _, ref := range refs {
		if refcount[*ref] <= 1 {
			continue
		}
		mux, ok := muxes[*ref]
		if !ok {
			schema := p.MustGet(ref.Node).OutputSchema
			mux = p.Add(schema, &Multiplexer{Input: *ref})
			muxes[*ref] = mux
		}
		*ref = Stream{Node: mux, Port: nextPort[mux]}
		nextPort[mux]++
	}
}
