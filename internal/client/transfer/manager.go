// Package transfer implements the client's file transfer coordinator:
// resumable upload and download state machines driven by inbound
// packets. Like the conversation state it is owned by the UI
// goroutine; the poll pump feeds it packets via HandlePacket.
package transfer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"oltchat/internal/filex"
	"oltchat/internal/protocol"
)

// Sender is the slice of the network client the coordinator needs.
type Sender interface {
	NextRequestID() uint64
	SendPacket(p *protocol.Packet)
}

// UploadTask tracks one outgoing file. Lifecycle: pending-offer →
// accepted → chunking → finalized, or failed at any step.
type UploadTask struct {
	RequestID        uint64
	FileID           string
	ConversationType string
	ConversationID   string
	FilePath         string
	FileName         string
	Sha256           string
	FileSize         int64
	NextOffset       int64
	ChunkSize        int64
	Done             bool
	Failed           bool
	Error            string

	src *os.File
}

// DownloadTask tracks one incoming file. Lifecycle: requested →
// receiving → verified and renamed, or failed.
type DownloadTask struct {
	FileID           string
	ConversationType string
	ConversationID   string
	FileName         string
	Sha256           string
	FileSize         int64
	NextOffset       int64
	TempPath         string
	FinalPath        string
	Done             bool
	Failed           bool
	Error            string
}

// Progress is a read-only snapshot of one transfer for display.
type Progress struct {
	FileID      string
	FileName    string
	Direction   string
	Transferred int64
	Total       int64
	Done        bool
	Failed      bool
	Error       string
}

type Manager struct {
	sender  Sender
	dataDir string

	pendingOffers map[uint64]*UploadTask
	uploads       map[string]*UploadTask
	downloads     map[string]*DownloadTask

	uploadReqs   map[uint64]string
	downloadReqs map[uint64]string
}

func NewManager(sender Sender, dataDir string) *Manager {
	return &Manager{
		sender:        sender,
		dataDir:       dataDir,
		pendingOffers: make(map[uint64]*UploadTask),
		uploads:       make(map[string]*UploadTask),
		downloads:     make(map[string]*DownloadTask),
		uploadReqs:    make(map[uint64]string),
		downloadReqs:  make(map[uint64]string),
	}
}

// BeginUpload hashes the file and offers it to the conversation. The
// returned task is parked until the server's FileAccept.
func (m *Manager) BeginUpload(path, convType, convID string) (*UploadTask, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}

	sum, err := filex.Sha256File(path)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}

	task := &UploadTask{
		ConversationType: convType,
		ConversationID:   convID,
		FilePath:         path,
		FileName:         filepath.Base(path),
		Sha256:           sum,
		FileSize:         fi.Size(),
	}

	if err := m.offer(task); err != nil {
		return nil, err
	}
	return task, nil
}

// offer sends a FileOffer for the task. A task that already carries a
// file id asks the server to resume.
func (m *Manager) offer(task *UploadTask) error {
	raw, err := json.Marshal(protocol.FileOfferMeta{
		ConversationType: task.ConversationType,
		ConversationID:   task.ConversationID,
		FileName:         task.FileName,
		FileSize:         task.FileSize,
		Sha256:           task.Sha256,
		FileID:           task.FileID,
	})
	if err != nil {
		return fmt.Errorf("marshal offer: %w", err)
	}

	task.RequestID = m.sender.NextRequestID()
	m.pendingOffers[task.RequestID] = task

	m.sender.SendPacket(&protocol.Packet{
		Type:      protocol.TypeFileOffer,
		RequestID: task.RequestID,
		Meta:      raw,
	})
	return nil
}

// BeginDownload starts fetching a published file into
// dataDir/downloads/{type}/{id}/. An existing partial temp file is
// adopted so an interrupted download continues where it stopped.
func (m *Manager) BeginDownload(notice *protocol.FileNoticeMeta) (*DownloadTask, error) {
	dir := filepath.Join(m.dataDir, "downloads", notice.ConversationType, notice.ConversationID)
	if err := filex.EnsureDir(dir); err != nil {
		return nil, err
	}

	base := notice.FileID + "_" + filex.SanitizeName(notice.FileName)

	task := &DownloadTask{
		FileID:           notice.FileID,
		ConversationType: notice.ConversationType,
		ConversationID:   notice.ConversationID,
		FileName:         notice.FileName,
		Sha256:           notice.Sha256,
		FileSize:         notice.FileSize,
		TempPath:         filepath.Join(dir, base+".part"),
		FinalPath:        filepath.Join(dir, base),
	}

	if fi, err := os.Stat(task.TempPath); err == nil {
		if fi.Size() > 0 && fi.Size() < task.FileSize {
			task.NextOffset = fi.Size()
		} else if err := os.Truncate(task.TempPath, 0); err != nil {
			return nil, fmt.Errorf("truncate %s: %w", task.TempPath, err)
		}
	}

	m.downloads[task.FileID] = task
	m.requestChunk(task)
	return task, nil
}

func (m *Manager) requestChunk(task *DownloadTask) {
	raw, _ := json.Marshal(protocol.FileDownloadRequestMeta{
		FileID: task.FileID,
		Offset: task.NextOffset,
	})

	reqID := m.sender.NextRequestID()
	m.downloadReqs[reqID] = task.FileID

	m.sender.SendPacket(&protocol.Packet{
		Type:      protocol.TypeFileDownloadRequest,
		RequestID: reqID,
		Meta:      raw,
	})
}

// HandlePacket feeds one inbound packet through the transfer state
// machines. Packets that belong to no transfer are ignored so the
// caller can hand over everything it polls.
func (m *Manager) HandlePacket(pkt *protocol.Packet) error {
	switch pkt.Type {
	case protocol.TypeFileAccept:
		return m.onAccept(pkt)
	case protocol.TypeFileUploadChunk:
		return m.onChunkAck(pkt)
	case protocol.TypeFileDone:
		return m.onFileDone(pkt)
	case protocol.TypeFileDownloadChunk:
		return m.onDownloadChunk(pkt)
	}
	return nil
}

func (m *Manager) onAccept(pkt *protocol.Packet) error {
	task, ok := m.pendingOffers[pkt.RequestID]
	if !ok {
		return nil
	}

	var meta protocol.FileAcceptMeta
	if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
		return fmt.Errorf("decode FileAccept: %w", err)
	}

	if !meta.OK() {
		// stays in pendingOffers so the rejection shows up in Snapshot
		m.failUpload(task, meta.Message)
		return nil
	}
	delete(m.pendingOffers, pkt.RequestID)

	task.FileID = meta.FileID
	task.ChunkSize = meta.ChunkSize
	task.NextOffset = meta.NextOffset
	m.uploads[task.FileID] = task

	return m.advanceUpload(task)
}

// advanceUpload sends the next chunk, or FileUploadDone once all bytes
// are on the server.
func (m *Manager) advanceUpload(task *UploadTask) error {
	if task.NextOffset >= task.FileSize {
		raw, _ := json.Marshal(protocol.FileUploadDoneMeta{FileID: task.FileID})

		reqID := m.sender.NextRequestID()
		m.uploadReqs[reqID] = task.FileID

		m.sender.SendPacket(&protocol.Packet{
			Type:      protocol.TypeFileUploadDone,
			RequestID: reqID,
			Meta:      raw,
		})
		return nil
	}

	if task.src == nil {
		f, err := os.Open(task.FilePath)
		if err != nil {
			m.failUpload(task, err.Error())
			return fmt.Errorf("open %s: %w", task.FilePath, err)
		}
		task.src = f
	}

	want := task.ChunkSize
	if remaining := task.FileSize - task.NextOffset; remaining < want {
		want = remaining
	}

	data := make([]byte, want)
	if _, err := task.src.ReadAt(data, task.NextOffset); err != nil {
		m.failUpload(task, err.Error())
		return fmt.Errorf("read %s: %w", task.FilePath, err)
	}

	raw, _ := json.Marshal(protocol.FileUploadChunkMeta{
		FileID: task.FileID,
		Offset: task.NextOffset,
	})

	reqID := m.sender.NextRequestID()
	m.uploadReqs[reqID] = task.FileID

	m.sender.SendPacket(&protocol.Packet{
		Type:      protocol.TypeFileUploadChunk,
		RequestID: reqID,
		Meta:      raw,
		Bin:       data,
	})
	return nil
}

func (m *Manager) onChunkAck(pkt *protocol.Packet) error {
	fileID, ok := m.uploadReqs[pkt.RequestID]
	if !ok {
		return nil
	}
	delete(m.uploadReqs, pkt.RequestID)

	task, ok := m.uploads[fileID]
	if !ok {
		return nil
	}

	var resp protocol.FileUploadChunkResp
	if err := json.Unmarshal(pkt.Meta, &resp); err != nil {
		return fmt.Errorf("decode chunk ack: %w", err)
	}

	if !resp.OK() {
		// an offset mismatch tells us where the server actually is, so
		// the retry after reconnect continues from there
		if resp.ExpectedOffset != nil {
			task.NextOffset = *resp.ExpectedOffset
		}
		m.failUpload(task, resp.Message)
		return nil
	}

	task.NextOffset = resp.NextOffset
	return m.advanceUpload(task)
}

func (m *Manager) onFileDone(pkt *protocol.Packet) error {
	// reply to our own FileUploadDone, correlated by request id
	if fileID, ok := m.uploadReqs[pkt.RequestID]; ok {
		delete(m.uploadReqs, pkt.RequestID)

		task, ok := m.uploads[fileID]
		if !ok {
			return nil
		}

		var status protocol.Status
		if err := json.Unmarshal(pkt.Meta, &status); err != nil {
			return fmt.Errorf("decode FileDone: %w", err)
		}
		if !status.OK() {
			m.failUpload(task, status.Message)
			return nil
		}

		m.completeUpload(task)
		return nil
	}

	// server push; completes our upload in case the reply got lost
	var notice protocol.FileNoticeMeta
	if err := json.Unmarshal(pkt.Meta, &notice); err != nil {
		return fmt.Errorf("decode FileDone push: %w", err)
	}
	if task, ok := m.uploads[notice.FileID]; ok && notice.OK() {
		m.completeUpload(task)
	}
	return nil
}

func (m *Manager) onDownloadChunk(pkt *protocol.Packet) error {
	fileID, ok := m.downloadReqs[pkt.RequestID]
	if !ok {
		return nil
	}
	delete(m.downloadReqs, pkt.RequestID)

	task, ok := m.downloads[fileID]
	if !ok || task.Done || task.Failed {
		return nil
	}

	var meta protocol.FileDownloadChunkMeta
	if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
		return fmt.Errorf("decode download chunk: %w", err)
	}

	if !meta.OK() {
		m.failDownload(task, meta.Message)
		return nil
	}
	if meta.Offset != task.NextOffset {
		m.failDownload(task, "download offset mismatch")
		return nil
	}
	if len(pkt.Bin) == 0 && !meta.Done {
		m.failDownload(task, "empty chunk")
		return nil
	}

	if err := writeAt(task.TempPath, task.NextOffset, pkt.Bin); err != nil {
		m.failDownload(task, err.Error())
		return fmt.Errorf("write %s: %w", task.TempPath, err)
	}
	task.NextOffset += int64(len(pkt.Bin))

	if meta.Done || task.NextOffset >= task.FileSize {
		return m.finishDownload(task)
	}

	m.requestChunk(task)
	return nil
}

// finishDownload verifies the hash and publishes the file with an
// atomic rename. A mismatch keeps the temp file for inspection.
func (m *Manager) finishDownload(task *DownloadTask) error {
	sum, err := filex.Sha256File(task.TempPath)
	if err != nil {
		m.failDownload(task, err.Error())
		return fmt.Errorf("hash %s: %w", task.TempPath, err)
	}
	if sum != task.Sha256 {
		m.failDownload(task, "sha256 mismatch")
		return nil
	}

	if err := os.Rename(task.TempPath, task.FinalPath); err != nil {
		m.failDownload(task, err.Error())
		return fmt.Errorf("rename %s: %w", task.TempPath, err)
	}

	task.Done = true
	return nil
}

// ResumeTransfers restarts everything unfinished after a reconnect.
// The download correlation table is cleared unconditionally: chunks
// answered on the dead connection are gone and must be re-requested.
func (m *Manager) ResumeTransfers() {
	m.downloadReqs = make(map[uint64]string)
	m.uploadReqs = make(map[uint64]string)

	pending := m.pendingOffers
	m.pendingOffers = make(map[uint64]*UploadTask)
	for reqID, task := range pending {
		if task.Failed {
			// rejected offers are kept for display, not retried
			m.pendingOffers[reqID] = task
			continue
		}
		_ = m.offer(task)
	}

	for _, task := range m.uploads {
		if task.Done {
			continue
		}
		// the server re-syncs to its temp file and answers with the
		// offset to continue from
		task.Failed = false
		task.Error = ""
		m.releaseSrc(task)
		_ = m.offer(task)
	}

	for _, task := range m.downloads {
		if task.Done || task.Failed {
			continue
		}
		m.requestChunk(task)
	}
}

// Snapshot lists all known transfers for display.
func (m *Manager) Snapshot() []Progress {
	out := make([]Progress, 0, len(m.pendingOffers)+len(m.uploads)+len(m.downloads))

	for _, task := range m.pendingOffers {
		out = append(out, uploadProgress(task))
	}
	for _, task := range m.uploads {
		out = append(out, uploadProgress(task))
	}
	for _, task := range m.downloads {
		out = append(out, Progress{
			FileID:      task.FileID,
			FileName:    task.FileName,
			Direction:   "download",
			Transferred: task.NextOffset,
			Total:       task.FileSize,
			Done:        task.Done,
			Failed:      task.Failed,
			Error:       task.Error,
		})
	}
	return out
}

func uploadProgress(task *UploadTask) Progress {
	return Progress{
		FileID:      task.FileID,
		FileName:    task.FileName,
		Direction:   "upload",
		Transferred: task.NextOffset,
		Total:       task.FileSize,
		Done:        task.Done,
		Failed:      task.Failed,
		Error:       task.Error,
	}
}

func (m *Manager) failUpload(task *UploadTask, msg string) {
	task.Failed = true
	task.Error = msg
	m.releaseSrc(task)
}

func (m *Manager) completeUpload(task *UploadTask) {
	task.Done = true
	task.Failed = false
	task.Error = ""
	m.releaseSrc(task)
}

func (m *Manager) releaseSrc(task *UploadTask) {
	if task.src != nil {
		_ = task.src.Close()
		task.src = nil
	}
}

func (m *Manager) failDownload(task *DownloadTask, msg string) {
	task.Failed = true
	task.Error = msg
}

// writeAt truncates the temp file when starting over and writes in
// place otherwise.
func writeAt(path string, offset int64, data []byte) error {
	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o660)
	if err != nil {
		return err
	}
	defer f.Close()

	if len(data) == 0 {
		return nil
	}
	if _, err := f.WriteAt(data, offset); err != nil {
		return err
	}
	return nil
}
