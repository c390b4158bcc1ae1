package rxd

// carve hands the first size bytes of a multi-recv buffer to e and returns a new entry describing the
// rest of the buffer. It returns nil when e retires the buffer: either the rest is below
// endpoint.min_multi_recv or the entry pool is exhausted.
func (ep *Endpoint) carve(e *xEntry, size int) *xEntry {
	region := e.iov[0]
	used := min(size, len(region))
	e.iov[0] = region[:used]
	e.region = region[:used]

	if len(region)-used < ep.cfg.MinMultiRecv {
		e.release = true
		return nil
	}

	rest := ep.rxPool.Get()
	if rest == nil {
		ep.l.WithField("entry", e).WithField("unused", len(region)-used).
			Debug("Entry pool exhausted, releasing multi-recv buffer early")
		e.release = true
		return nil
	}

	rest.op = e.op
	rest.flags = e.flags
	rest.peer = e.peer
	rest.tag = e.tag
	rest.ignore = e.ignore
	rest.context = e.context
	rest.iov[0] = region[used:]
	rest.iovCnt = 1
	return rest
}

// splitPosted takes a posted multi-recv entry off list for an arrival of size bytes. The rest of its
// buffer stays posted at the same position.
func (ep *Endpoint) splitPosted(list *arenaList[*xEntry], r int32, e *xEntry, size int) *xEntry {
	if rest := ep.carve(e, size); rest != nil {
		list.Replace(r, rest)
		rest.ref = r
	} else {
		list.Remove(r)
	}
	e.ref = nilRef
	return e
}
