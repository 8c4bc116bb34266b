package session

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"time"

	"github.com/dragwire/torrentcore/internal/acceptor"
	"github.com/dragwire/torrentcore/internal/addrlist"
	"github.com/dragwire/torrentcore/internal/alert"
	"github.com/dragwire/torrentcore/internal/allocator"
	"github.com/dragwire/torrentcore/internal/announce"
	"github.com/dragwire/torrentcore/internal/extension/metadata"
	"github.com/dragwire/torrentcore/internal/handshaker"
	"github.com/dragwire/torrentcore/internal/infodownloader"
	"github.com/dragwire/torrentcore/internal/metainfo"
	"github.com/dragwire/torrentcore/internal/peer"
	"github.com/dragwire/torrentcore/internal/peerprotocol"
	"github.com/dragwire/torrentcore/internal/piecedownloader"
	"github.com/dragwire/torrentcore/internal/piecepicker"
	"github.com/dragwire/torrentcore/internal/resumer"
	"github.com/dragwire/torrentcore/internal/verifier"
)

type stopReason int

const (
	stopReasonStop stopReason = iota
	stopReasonClose
)

// run is the torrent's single owning goroutine: every field on t is
// only ever touched from here, by contract (spec.md §5).
func (t *torrent) run() {
	for {
		select {
		case <-t.startCommandC:
			if t.runActive() == stopReasonClose {
				return
			}
		case doneC := <-t.closeC:
			close(doneC)
			return
		case respC := <-t.statsCommandC:
			respC <- t.snapshotStats()
		}
	}
}

func (t *torrent) runActive() stopReason {
	t.startedAt = time.Now()
	t.state = StateCheckingResumeData

	if a, err := acceptor.New(fmt.Sprintf(":%d", t.port), t.log); err == nil {
		t.acceptor = a
		go t.acceptor.Run()
		defer t.acceptor.Close()
	} else {
		t.log.Warningln("could not start listener:", err)
	}

	t.trackerTiers = t.session.resolveTrackers(t.id, t.trackerURLs)
	for _, tier := range t.trackerTiers {
		for _, tr := range tier {
			a := announce.NewPeriodicalAnnouncer(tr, t.settings.TrackerNumWant, t.announceInfo, t.log)
			t.announcers = append(t.announcers, a)
			go t.forwardAnnouncerPeers(a)
		}
	}
	defer t.stopAnnouncers()

	if t.info == nil {
		t.state = StateDownloadingMetadata
	} else if has, _ := t.storage.HasAnyFile(); has {
		t.state = StateCheckingFiles
		go t.startVerify()
	} else {
		t.state = StateAllocating
		go t.startAllocate()
	}

	unchokeTicker := time.NewTicker(unchokeInterval)
	defer unchokeTicker.Stop()
	optimisticTicker := time.NewTicker(optimisticUnchokeInterval)
	defer optimisticTicker.Stop()
	dialTicker := time.NewTicker(dialInterval)
	defer dialTicker.Stop()
	statsTicker := time.NewTicker(statsWriteInterval)
	defer statsTicker.Stop()

	for {
		var incomingC <-chan net.Conn
		if t.acceptor != nil {
			incomingC = t.acceptor.Conns()
		}

		select {
		case <-t.stopCommandC:
			t.disconnectAllPeers()
			t.announceStoppedEvent()
			return stopReasonStop

		case doneC := <-t.closeC:
			t.disconnectAllPeers()
			t.announceStoppedEvent()
			close(doneC)
			return stopReasonClose

		case respC := <-t.statsCommandC:
			respC <- t.snapshotStats()

		case conn := <-incomingC:
			t.handleIncomingConn(conn)

		case addrs := <-t.addrsFromTrackers:
			t.addrList.PushPeers(addrs, addrlist.Tracker)
			t.emit(alert.NewTrackerReply(t.id, "", len(addrs)))

		case <-dialTicker.C:
			t.dialOne()

		case res := <-t.handshakeResultC:
			t.handleHandshakeResult(res)

		case msg := <-t.messages:
			t.handlePeerMessage(msg)

		case pm := <-t.pieceMessages:
			t.handlePieceMessage(pm)

		case pe := <-t.peerSnubbedC:
			t.handleSnubbed(pe)

		case pe := <-t.peerDisconnectedC:
			t.handleDisconnected(pe)

		case v := <-t.verifierResultC:
			t.handleVerifyResult(v)

		case <-t.verifierProgressC:

		case a := <-t.allocatorResultC:
			t.handleAllocateResult(a)

		case <-t.allocatorProgressC:

		case <-unchokeTicker.C:
			t.tickUnchoke()

		case <-optimisticTicker.C:
			t.tickOptimisticUnchoke()

		case <-statsTicker.C:
			t.writeResumeStats()
		}
	}
}

func (t *torrent) snapshotStats() Stats {
	s := Stats{
		State:           t.state,
		BytesDownloaded: t.bytesDownloaded,
		BytesUploaded:   t.bytesUploaded,
		BytesWasted:     t.bytesWasted,
		PeersConnected:  len(t.peers),
	}
	if t.info != nil {
		s.BytesTotal = t.info.TotalLength
		s.PiecesTotal = t.info.NumPieces
	}
	if t.bitfield != nil {
		s.PiecesComplete = t.bitfield.Count()
		if t.info != nil {
			s.BytesCompleted = int64(s.PiecesComplete) * int64(t.info.PieceLength)
		}
	}
	return s
}

func (t *torrent) announceInfo() announce.TorrentInfo {
	ti := announce.TorrentInfo{
		InfoHash:        t.infoHash,
		PeerID:          t.peerID,
		Port:            t.port,
		BytesUploaded:   t.bytesUploaded,
		BytesDownloaded: t.bytesDownloaded,
		Completed:       t.completed,
	}
	if t.info != nil {
		ti.BytesLeft = t.info.TotalLength - t.bytesDownloaded
	}
	return ti
}

func (t *torrent) forwardAnnouncerPeers(a *announce.PeriodicalAnnouncer) {
	for {
		select {
		case addrs, ok := <-a.PeersC:
			if !ok {
				return
			}
			select {
			case t.addrsFromTrackers <- addrs:
			case <-t.stopForwardC:
				return
			}
		case <-t.stopForwardC:
			return
		}
	}
}

func (t *torrent) stopAnnouncers() {
	for _, a := range t.announcers {
		a.Close()
	}
	t.announcers = nil
	t.trackerTiers = nil
}

func (t *torrent) announceStoppedEvent() {
	if len(t.trackerTiers) == 0 {
		return
	}
	var flat []announce.Tracker
	for _, tier := range t.trackerTiers {
		flat = append(flat, tier...)
	}
	sa := announce.NewStopAnnouncer(flat, t.announceInfo(), t.settings.StopTrackerTimeout, t.log)
	sa.Close()
}

func (t *torrent) startVerify() {
	v := verifier.New(t.storage, t.info, t.verifierProgressC, t.verifierResultC)
	v.Run()
}

func (t *torrent) handleVerifyResult(v *verifier.Verifier) {
	if v.Error != nil {
		t.errorf("hash check failed: %v", v.Error)
		return
	}
	t.bitfield = v.Bitfield
	t.picker = piecepicker.New(t.pieces, t.bitfield, false)
	t.emit(alert.NewTorrentChecked(t.id))
	t.enterSteadyState()
}

func (t *torrent) startAllocate() {
	a := allocator.New(t.storage, t.files, t.allocatorProgressC, t.allocatorResultC)
	a.Run()
}

func (t *torrent) handleAllocateResult(a *allocator.Allocator) {
	if a.Error != nil {
		t.errorf("allocation failed: %v", a.Error)
		return
	}
	t.enterSteadyState()
}

func (t *torrent) enterSteadyState() {
	if t.bitfield != nil && t.bitfield.All() {
		t.markCompleted()
	} else {
		t.state = StateDownloading
	}
}

// markCompleted transitions the torrent into the seeding state,
// emits the finished alert, and tells every tracker announcer to send
// event=completed on its next announce (§4.5 ordering: started then
// completed then stopped). A no-op if already completed.
func (t *torrent) markCompleted() {
	if t.completed {
		return
	}
	t.completed = true
	t.state = StateSeeding
	t.emit(alert.NewTorrentFinished(t.id))
	for _, a := range t.announcers {
		a.Complete()
	}
}

func (t *torrent) handleIncomingConn(conn net.Conn) {
	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	ip := net.ParseIP(host)
	if t.blocklist != nil && t.blocklist.Blocked(ip) {
		conn.Close()
		return
	}
	if _, ok := t.connectedIPs[host]; ok {
		conn.Close()
		return
	}
	caps := peerprotocol.Capabilities{Fast: true, Extended: true}
	go handshaker.Incoming(conn, t.peerID, caps, t.settings.PeerHandshakeTimeout, t.settings.RequestTimeout, 2*time.Minute, t.log, t.handshakeResultC, t.stopForwardC)
}

func (t *torrent) dialOne() {
	if len(t.peers)+len(t.pieceDownloaders) >= t.settings.MaxPeerDial {
		return
	}
	addr := t.addrList.Pop()
	if addr == nil {
		return
	}
	if t.blocklist != nil && t.blocklist.Blocked(addr.IP) {
		return
	}
	if _, ok := t.connectedIPs[addr.IP.String()]; ok {
		return
	}
	caps := peerprotocol.Capabilities{Fast: true, Extended: true}
	go handshaker.Outgoing(addr, t.infoHash, t.peerID, caps, t.settings.PeerConnectTimeout, t.settings.PeerHandshakeTimeout, t.settings.RequestTimeout, 2*time.Minute, t.log, t.handshakeResultC, t.stopForwardC)
}

func (t *torrent) handleHandshakeResult(res handshaker.Result) {
	if res.Error != nil {
		return
	}
	if !res.Outgoing && res.InfoHash != t.infoHash {
		res.Conn.Close()
		return
	}
	host, _, _ := net.SplitHostPort(res.Conn.Addr().String())
	if _, ok := t.connectedIPs[host]; ok {
		res.Conn.Close()
		return
	}
	t.connectedIPs[host] = struct{}{}
	pe := peer.New(res.Conn, t.settings.RequestTimeout)
	t.peers[pe] = struct{}{}
	go pe.Run(t.messages, t.pieceMessages, t.peerSnubbedC, t.peerDisconnectedC)
	t.emit(alert.NewPeerConnect(t.id, res.Conn.Addr().String()))

	if t.bitfield != nil {
		pe.SendMessage(peerprotocol.BitfieldMessage{Data: t.bitfield.Bytes()})
	}
	size := uint32(0)
	if t.info != nil {
		size = uint32(len(t.info.Bytes))
	}
	advertiseExtensions := t.info == nil || t.info.Private != 1
	h := peerprotocol.NewExtensionHandshake(size, t.settings.ExtensionHandshakeClientVersion, nil, advertiseExtensions, advertiseExtensions)
	if b, err := h.MarshalBencode(); err == nil {
		pe.SendMessage(peerprotocol.ExtensionMessage{ExtendedMessageID: peerprotocol.ExtensionIDHandshake, Payload: b})
	}
}

func (t *torrent) disconnectAllPeers() {
	for pe := range t.peers {
		pe.Close()
	}
}

func (t *torrent) handleSnubbed(pe *peer.Peer) {
	pe.Snubbed = true
	if pd, ok := t.pieceDownloaders[pe]; ok {
		t.picker.HandleSnubbed(pe, pd.Piece.Index)
	}
}

func (t *torrent) handleDisconnected(pe *peer.Peer) {
	host, _, _ := net.SplitHostPort(pe.Conn.Addr().String())
	delete(t.connectedIPs, host)
	delete(t.peers, pe)
	delete(t.optimisticUnchokedPeers, pe)
	if pd, ok := t.pieceDownloaders[pe]; ok {
		pd.CancelPending()
		t.picker.HandleCancelDownload(pe, pd.Piece.Index)
		delete(t.pieceDownloaders, pe)
	}
	delete(t.infoDownloaders, pe)
	if t.picker != nil {
		t.picker.HandleDisconnect(pe)
	}
	t.emit(alert.NewPeerDisconnected(t.id, pe.Conn.Addr().String(), "closed"))
}

func (t *torrent) handlePeerMessage(m peer.Message) {
	pe := m.Peer
	switch msg := m.Message.(type) {
	case peerprotocol.ChokeMessage:
		pe.PeerChoking = true
		if pd, ok := t.pieceDownloaders[pe]; ok {
			pd.CancelPending()
			t.picker.HandleCancelDownload(pe, pd.Piece.Index)
			delete(t.pieceDownloaders, pe)
		}
	case peerprotocol.UnchokeMessage:
		pe.PeerChoking = false
		t.maybeStartDownload(pe)
	case peerprotocol.InterestedMessage:
		pe.PeerInterested = true
	case peerprotocol.NotInterestedMessage:
		pe.PeerInterested = false
	case peerprotocol.HaveMessage:
		if t.picker != nil {
			t.picker.HandleHave(pe, msg.Index)
		}
		t.maybeStartDownload(pe)
	case peerprotocol.BitfieldMessage:
		if t.bitfield != nil && t.picker != nil {
			for i := uint32(0); i < t.bitfield.Len(); i++ {
				if hasBit(msg.Data, i) {
					t.picker.HandleHave(pe, i)
				}
			}
		}
		t.maybeStartDownload(pe)
	case peerprotocol.HaveAllMessage:
		if t.info != nil && t.picker != nil {
			for i := uint32(0); i < t.info.NumPieces; i++ {
				t.picker.HandleHave(pe, i)
			}
		}
		t.maybeStartDownload(pe)
	case peerprotocol.HaveNoneMessage:
		// nothing to record
	case peerprotocol.RequestMessage:
		t.handleUploadRequest(pe, msg)
	case peerprotocol.CancelMessage:
		// best effort; small pieces may already be in flight to the writer
	case peerprotocol.RejectMessage:
		if pd, ok := t.pieceDownloaders[pe]; ok {
			pd.Rejected(msg.Begin)
		}
	case peerprotocol.AllowedFastMessage:
		// fast-extension allowed-fast set is advisory and not modeled
		// beyond accepting it without penalty
	case peerprotocol.ExtensionMessage:
		t.handleExtensionMessage(pe, msg)
	case peerprotocol.PortMessage:
		// DHT port advertisement; DHT routing itself is out of scope
	}
}

func hasBit(b []byte, i uint32) bool {
	byteIdx := i / 8
	if int(byteIdx) >= len(b) {
		return false
	}
	return b[byteIdx]&(1<<(7-i%8)) != 0
}

func (t *torrent) maybeStartDownload(pe *peer.Peer) {
	if t.picker == nil || pe.PeerChoking {
		return
	}
	if _, ok := t.pieceDownloaders[pe]; ok {
		return
	}
	index, ok := t.picker.PickFor(pe)
	if !ok {
		return
	}
	t.picker.StartDownload(index)
	buf := t.piecePool.Get().([]byte)
	pc := &t.pieces[index]
	if uint32(len(buf)) < pc.Length {
		buf = make([]byte, pc.Length)
	}
	pd := piecedownloader.New(pe, pc, buf[:pc.Length])
	t.pieceDownloaders[pe] = pd
	pd.RequestBlocks(t.settings.MaxOutRequestQueue)
}

func (t *torrent) handleUploadRequest(pe *peer.Peer, msg peerprotocol.RequestMessage) {
	if t.cache == nil {
		return
	}
	buf := make([]byte, msg.Length)
	if _, err := t.cache.Read(msg.Index, int64(msg.Begin), buf); err != nil {
		return
	}
	pe.SendPiece(msg.Index, msg.Begin, buf)
	t.bytesUploaded += int64(len(buf))
}

func (t *torrent) handleExtensionMessage(pe *peer.Peer, msg peerprotocol.ExtensionMessage) {
	switch msg.ExtendedMessageID {
	case peerprotocol.ExtensionIDHandshake:
		h, err := peerprotocol.UnmarshalExtensionHandshake(msg.Payload)
		if err != nil {
			return
		}
		pe.ExtensionHandshake = h
		if t.info == nil && h.MetadataSize > 0 {
			t.startInfoDownload(pe)
		}
	default:
		t.dispatchExtensionSubMessage(pe, msg)
	}
}

func (t *torrent) dispatchExtensionSubMessage(pe *peer.Peer, msg peerprotocol.ExtensionMessage) {
	if pe.ExtensionHandshake == nil {
		return
	}
	for name, id := range pe.ExtensionHandshake.M {
		if id != msg.ExtendedMessageID {
			continue
		}
		switch name {
		case peerprotocol.ExtensionNameMetadata:
			t.handleMetadataExtension(pe, msg.Payload)
		case peerprotocol.ExtensionNameTex:
			t.handleTexExtension(msg.Payload)
		}
		return
	}
}

func (t *torrent) handleMetadataExtension(pe *peer.Peer, payload []byte) {
	req, chunk, err := peerprotocol.UnmarshalExtensionMetadataMessage(payload)
	if err != nil {
		return
	}
	switch req.Type {
	case peerprotocol.ExtensionMetadataMessageTypeRequest:
		if t.metadataServer == nil {
			return
		}
		resp, err := t.metadataServer.HandleRequest(pe.ID(), req)
		if err != nil {
			return
		}
		id := pe.ExtensionHandshake.M[peerprotocol.ExtensionNameMetadata]
		pe.SendMessage(peerprotocol.ExtensionMessage{ExtendedMessageID: id, Payload: resp})
	case peerprotocol.ExtensionMetadataMessageTypeData:
		d, ok := t.infoDownloaders[pe]
		if !ok {
			return
		}
		if err := d.GotBlock(req.Piece, chunk); err != nil {
			delete(t.infoDownloaders, pe)
			return
		}
		if d.Done() {
			delete(t.infoDownloaders, pe)
			t.handleInfoDownloadDone(d)
			return
		}
		d.RequestBlocks(t.settings.MaxOutRequestQueue)
	case peerprotocol.ExtensionMetadataMessageTypeReject:
		delete(t.infoDownloaders, pe)
	}
}

func (t *torrent) handleTexExtension(payload []byte) {
	if t.tex == nil {
		return
	}
	msg, err := peerprotocol.UnmarshalExtensionTexMessage(payload)
	if err != nil {
		return
	}
	fresh := t.tex.HandleMessage(msg)
	for _, u := range fresh {
		t.trackerURLs = append(t.trackerURLs, []string{u})
	}
}

func (t *torrent) startInfoDownload(pe *peer.Peer) {
	if _, ok := t.infoDownloaders[pe]; ok {
		return
	}
	d, err := infodownloader.New(pe)
	if err != nil {
		t.emit(alert.NewMetadataFailed(t.id, err))
		pe.Close()
		return
	}
	t.infoDownloaders[pe] = d
	d.RequestBlocks(t.settings.MaxOutRequestQueue)
}

func (t *torrent) handleInfoDownloadDone(d *infodownloader.InfoDownloader) {
	if !metadata.VerifyInfo(d.Bytes, t.infoHash) {
		t.emit(alert.NewMetadataFailed(t.id, errors.New("metadata hash mismatch")))
		return
	}
	info, err := metainfo.NewInfo(d.Bytes)
	if err != nil {
		t.emit(alert.NewMetadataFailed(t.id, err))
		return
	}
	if err := t.setInfo(info, nil); err != nil {
		t.errorf("could not finalize downloaded metadata: %v", err)
		return
	}
	t.emit(alert.NewMetadataReceived(t.id))
	if has, _ := t.storage.HasAnyFile(); has {
		t.state = StateCheckingFiles
		go t.startVerify()
	} else {
		t.state = StateAllocating
		go t.startAllocate()
	}
}

func (t *torrent) handlePieceMessage(pm peer.PieceMessage) {
	pe := pm.Peer
	pd, ok := t.pieceDownloaders[pe]
	if !ok {
		return
	}
	pd.GotBlock(pm.Piece.Begin, pm.Piece.Data)
	t.bytesDownloaded += int64(len(pm.Piece.Data))
	if !pd.Done() {
		pd.RequestBlocks(t.settings.MaxOutRequestQueue)
		return
	}
	delete(t.pieceDownloaders, pe)
	index := pd.Piece.Index
	for _, b := range pd.Piece.Blocks {
		t.cache.Write(index, b.Begin, pd.Bytes[b.Begin:b.Begin+b.Length])
	}
	ok2, data, err := t.cache.HashPiece(index)
	if err != nil {
		t.errorf("hash piece %d failed: %v", index, err)
		return
	}
	if !ok2 {
		t.bytesWasted += int64(len(data))
		t.picker.HandleCancelDownload(pe, index)
		t.piecePool.Put(pd.Bytes)
		return
	}
	t.bitfield.Set(index)
	t.piecePool.Put(pd.Bytes)
	if err := t.cache.Flush(index); err != nil {
		t.errorf("flush failed for piece %d: %v", index, err)
	}
	t.cache.Evict(index)
	t.emit(alert.NewPieceFinished(t.id, index))
	for other := range t.peers {
		other.SendMessage(peerprotocol.HaveMessage{Index: index})
	}
	if t.bitfield.All() {
		t.markCompleted()
	}
}

func (t *torrent) writeResumeStats() {
	if t.resume == nil {
		return
	}
	_ = t.resume.WriteStats(resumer.Stats{
		BytesDownloaded: t.bytesDownloaded,
		BytesUploaded:   t.bytesUploaded,
		BytesWasted:     t.bytesWasted,
		SeededFor:       t.seededFor(),
	})
	if t.bitfield != nil {
		_ = t.resume.WriteBitfield(t.bitfield.Bytes())
	}
}

func (t *torrent) seededFor() time.Duration {
	if t.state != StateSeeding || t.startedAt.IsZero() {
		return 0
	}
	return time.Since(t.startedAt)
}

// tickUnchoke sorts interested peers by upload contribution in the
// last period and unchokes the top UnchokedPeers.
func (t *torrent) tickUnchoke() {
	var candidates []*peer.Peer
	for pe := range t.peers {
		if pe.PeerInterested {
			candidates = append(candidates, pe)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].BytesUploadedInChokePeriod > candidates[j].BytesUploadedInChokePeriod
	})
	limit := t.settings.UnchokedPeers
	for i, pe := range candidates {
		if i < limit {
			if pe.AmChoking {
				pe.AmChoking = false
				pe.SendMessage(peerprotocol.UnchokeMessage{})
			}
		} else if _, opt := t.optimisticUnchokedPeers[pe]; !opt && !pe.AmChoking {
			pe.AmChoking = true
			pe.SendMessage(peerprotocol.ChokeMessage{})
		}
		pe.BytesUploadedInChokePeriod = 0
	}
}

// tickOptimisticUnchoke rotates a random choked-but-interested peer
// into the unchoked set regardless of its upload rate, giving new
// peers a chance to prove themselves.
func (t *torrent) tickOptimisticUnchoke() {
	for pe := range t.optimisticUnchokedPeers {
		pe.AmChoking = true
		pe.OptimisticUnchoked = false
		pe.SendMessage(peerprotocol.ChokeMessage{})
		delete(t.optimisticUnchokedPeers, pe)
	}
	var candidates []*peer.Peer
	for pe := range t.peers {
		if pe.PeerInterested && pe.AmChoking {
			candidates = append(candidates, pe)
		}
	}
	if len(candidates) == 0 {
		return
	}
	n := t.settings.OptimisticUnchokedPeers
	if n > len(candidates) {
		n = len(candidates)
	}
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	for _, pe := range candidates[:n] {
		pe.AmChoking = false
		pe.OptimisticUnchoked = true
		t.optimisticUnchokedPeers[pe] = struct{}{}
		pe.SendMessage(peerprotocol.UnchokeMessage{})
	}
}
