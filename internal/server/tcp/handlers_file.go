package tcp

import (
	"context"
	"encoding/json"
	"errors"

	"oltchat/internal/observability"
	"oltchat/internal/protocol"
	"oltchat/internal/server/files"
	"oltchat/internal/server/messages"
	"oltchat/internal/server/session"
	"oltchat/internal/shared"
)

// fileRecipients computes the download-permission set for an offer.
// Unlike message fan-out, a group upload includes the uploader so their
// own FileDone push surfaces the file in their client.
func (s *Server) fileRecipients(ctx context.Context, conn clientConn, sess *session.Session, pkt *protocol.Packet, convType, convID string) ([]string, bool) {
	if convType == messages.ConversationPrivate {
		exists, err := s.users.Exists(ctx, convID)
		if err != nil {
			s.logger.Error(ctx, "recipient lookup failed", "user", convID, "error", err)
			s.sendError(conn, protocol.TypeFileAccept, pkt.RequestID, codeUserLookupFailed, "recipient lookup failed")
			return nil, false
		}
		if !exists {
			s.sendError(conn, protocol.TypeFileAccept, pkt.RequestID, codeTargetNotFound, "recipient not found")
			return nil, false
		}
		return []string{convID}, true
	}

	if _, err := s.groups.Role(ctx, convID, sess.UserID); err != nil {
		if errors.Is(err, shared.ErrorNotInGroup) || errors.Is(err, shared.ErrorNotFound) {
			s.sendError(conn, protocol.TypeFileAccept, pkt.RequestID, codeNotInGroup, "user not in group")
		} else {
			s.logger.Error(ctx, "role lookup failed", "group", convID, "user", sess.UserID, "error", err)
			s.sendError(conn, protocol.TypeFileAccept, pkt.RequestID, codeUserLookupFailed, "membership lookup failed")
		}
		return nil, false
	}

	members, err := s.groups.Members(ctx, convID)
	if err != nil {
		s.logger.Error(ctx, "member lookup failed", "group", convID, "error", err)
		s.sendError(conn, protocol.TypeFileAccept, pkt.RequestID, codeUserLookupFailed, "membership lookup failed")
		return nil, false
	}

	recipients := make([]string, 0, len(members))
	for _, m := range members {
		recipients = append(recipients, m.UserID)
	}
	return recipients, true
}

func (s *Server) handleFileOffer(ctx context.Context, conn clientConn, sess *session.Session, pkt *protocol.Packet) {
	var meta protocol.FileOfferMeta
	if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
		s.sendError(conn, protocol.TypeFileAccept, pkt.RequestID, codeInvalidJSON, "malformed metadata")
		return
	}

	if !validConversationType(meta.ConversationType) {
		s.sendError(conn, protocol.TypeFileAccept, pkt.RequestID, codeInvalidConversationType, "conversation_type must be private or group")
		return
	}
	if !validField(meta.ConversationID) {
		s.sendError(conn, protocol.TypeFileAccept, pkt.RequestID, codeInvalidRequest, "conversation id must be 1..64 bytes")
		return
	}
	if meta.FileName == "" || len(meta.FileName) > maxFileNameLength {
		s.sendError(conn, protocol.TypeFileAccept, pkt.RequestID, codeInvalidName, "file name must be 1..255 bytes")
		return
	}
	if meta.FileSize <= 0 {
		s.sendError(conn, protocol.TypeFileAccept, pkt.RequestID, codeInvalidSize, "file size must be positive")
		return
	}
	if !validSha256(meta.Sha256) {
		s.sendError(conn, protocol.TypeFileAccept, pkt.RequestID, codeInvalidSha256, "sha256 must be 64 lowercase hex chars")
		return
	}

	// an offer carrying a file id resumes the matching upload
	if meta.FileID != "" {
		offset, err := s.files.ResumeUpload(ctx, meta.FileID, sess.UserID)
		if err != nil {
			switch {
			case errors.Is(err, shared.ErrorNotFound):
				s.sendError(conn, protocol.TypeFileAccept, pkt.RequestID, codeResumeFailed, "unknown upload")
			case errors.Is(err, shared.ErrorUploaderMismatch):
				s.sendError(conn, protocol.TypeFileAccept, pkt.RequestID, codeResumeFailed, "uploader mismatch")
			default:
				s.logger.Error(ctx, "resume failed", "file", meta.FileID, "user", sess.UserID, "error", err)
				s.sendError(conn, protocol.TypeFileAccept, pkt.RequestID, codeResumeFailed, "could not resume upload")
			}
			return
		}

		s.logger.Info(ctx, "upload resumed", "file", meta.FileID, "offset", offset)

		s.sendMeta(conn, protocol.TypeFileAccept, pkt.RequestID, protocol.FileAcceptMeta{
			Status:     protocol.Status{Status: protocol.StatusOK},
			FileID:     meta.FileID,
			NextOffset: offset,
			ChunkSize:  s.files.ChunkSize(),
		})
		return
	}

	recipients, ok := s.fileRecipients(ctx, conn, sess, pkt, meta.ConversationType, meta.ConversationID)
	if !ok {
		return
	}

	file, err := s.files.CreateUpload(ctx, &files.File{
		ConversationType: meta.ConversationType,
		ConversationID:   meta.ConversationID,
		FileName:         meta.FileName,
		FileSize:         meta.FileSize,
		Sha256:           meta.Sha256,
		UploaderID:       sess.UserID,
		UploaderNickname: sess.Nickname,
	}, recipients)
	if err != nil {
		s.logger.Error(ctx, "offer failed", "user", sess.UserID, "error", err)
		s.sendError(conn, protocol.TypeFileAccept, pkt.RequestID, codeOfferFailed, "could not register upload")
		return
	}

	s.logger.Info(ctx, "upload accepted", "file", file.FileID,
		"name", file.FileName, "size", file.FileSize, "uploader", sess.UserID)

	s.sendMeta(conn, protocol.TypeFileAccept, pkt.RequestID, protocol.FileAcceptMeta{
		Status:     protocol.Status{Status: protocol.StatusOK},
		FileID:     file.FileID,
		NextOffset: 0,
		ChunkSize:  s.files.ChunkSize(),
	})
}

func (s *Server) handleFileUploadChunk(ctx context.Context, conn clientConn, sess *session.Session, pkt *protocol.Packet) {
	var meta protocol.FileUploadChunkMeta
	if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidJSON, "malformed metadata")
		return
	}
	if !validField(meta.FileID) {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeInvalidFileID, "file id must be 1..64 bytes")
		return
	}
	if len(pkt.Bin) == 0 {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeEmptyChunk, "chunk payload is empty")
		return
	}
	if int64(len(pkt.Bin)) > s.files.ChunkSize() {
		s.sendError(conn, pkt.Type, pkt.RequestID, codeChunkTooLarge, "chunk exceeds negotiated size")
		return
	}

	next, expected, err := s.files.AppendChunk(ctx, meta.FileID, sess.UserID, meta.Offset, pkt.Bin)
	if err != nil {
		if errors.Is(err, shared.ErrorOffsetMismatch) {
			s.sendMeta(conn, pkt.Type, pkt.RequestID, protocol.FileUploadChunkResp{
				Status: protocol.Status{
					Status:  protocol.StatusError,
					Code:    codeUploadFailed,
					Message: "offset mismatch",
				},
				ExpectedOffset: &expected,
			})
			return
		}

		switch {
		case errors.Is(err, shared.ErrorNotFound):
			s.sendError(conn, pkt.Type, pkt.RequestID, codeUploadFailed, "unknown upload")
		case errors.Is(err, shared.ErrorUploaderMismatch):
			s.sendError(conn, pkt.Type, pkt.RequestID, codeUploadFailed, "uploader mismatch")
		case errors.Is(err, shared.ErrorChunkExceedsFileSize):
			s.sendError(conn, pkt.Type, pkt.RequestID, codeUploadFailed, "chunk exceeds file size")
		default:
			s.logger.Error(ctx, "append chunk failed", "file", meta.FileID,
				"offset", meta.Offset, "error", err)
			s.sendError(conn, pkt.Type, pkt.RequestID, codeUploadFailed, "could not store chunk")
		}
		return
	}

	s.sendMeta(conn, pkt.Type, pkt.RequestID, protocol.FileUploadChunkResp{
		Status:     protocol.Status{Status: protocol.StatusOK},
		NextOffset: next,
	})
}

func (s *Server) handleFileUploadDone(ctx context.Context, conn clientConn, sess *session.Session, pkt *protocol.Packet) {
	var meta protocol.FileUploadDoneMeta
	if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
		s.sendError(conn, protocol.TypeFileDone, pkt.RequestID, codeInvalidJSON, "malformed metadata")
		return
	}
	if !validField(meta.FileID) {
		s.sendError(conn, protocol.TypeFileDone, pkt.RequestID, codeInvalidFileID, "file id must be 1..64 bytes")
		return
	}

	file, err := s.files.FinalizeUpload(ctx, meta.FileID, sess.UserID)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrorNotFound):
			s.sendError(conn, protocol.TypeFileDone, pkt.RequestID, codeFinalizeFailed, "unknown upload")
		case errors.Is(err, shared.ErrorUploaderMismatch):
			s.sendError(conn, protocol.TypeFileDone, pkt.RequestID, codeFinalizeFailed, "uploader mismatch")
		case errors.Is(err, shared.ErrorNotFullyUploaded):
			s.sendError(conn, protocol.TypeFileDone, pkt.RequestID, codeFinalizeFailed, "file not fully uploaded")
		case errors.Is(err, shared.ErrorShaMismatch):
			s.sendError(conn, protocol.TypeFileDone, pkt.RequestID, codeFinalizeFailed, "sha256 mismatch")
		default:
			s.logger.Error(ctx, "finalize failed", "file", meta.FileID, "error", err)
			s.sendError(conn, protocol.TypeFileDone, pkt.RequestID, codeFinalizeFailed, "could not finalize upload")
		}
		return
	}

	s.logger.Info(ctx, "file published", "file", file.FileID, "name", file.FileName)

	notice := fileNotice(file)
	s.sendMeta(conn, protocol.TypeFileDone, pkt.RequestID, notice)

	targets, err := s.files.Targets(ctx, file.FileID)
	if err != nil {
		s.logger.Error(ctx, "target lookup failed", "file", file.FileID, "error", err)
		return
	}

	for _, userID := range targets {
		if userID == sess.UserID {
			// the reply above already carried the notice
			s.markFileDelivered(ctx, file.FileID, userID)
			continue
		}

		connID, online := s.registry.LookupConn(userID)
		if !online {
			continue
		}
		target, ok := s.conns[connID]
		if !ok {
			continue
		}

		observability.FanoutPush("file")
		s.sendMeta(target, protocol.TypeFileDone, 0, notice)
		s.markFileDelivered(ctx, file.FileID, userID)
	}
}

func (s *Server) markFileDelivered(ctx context.Context, fileID, userID string) {
	if err := s.files.MarkDelivered(ctx, fileID, userID); err != nil {
		s.logger.Error(ctx, "mark file delivered", "file", fileID, "user", userID, "error", err)
	}
}

func (s *Server) handleFileDownloadRequest(ctx context.Context, conn clientConn, sess *session.Session, pkt *protocol.Packet) {
	var meta protocol.FileDownloadRequestMeta
	if err := json.Unmarshal(pkt.Meta, &meta); err != nil {
		s.sendError(conn, protocol.TypeFileDownloadChunk, pkt.RequestID, codeInvalidJSON, "malformed metadata")
		return
	}
	if !validField(meta.FileID) {
		s.sendError(conn, protocol.TypeFileDownloadChunk, pkt.RequestID, codeInvalidFileID, "file id must be 1..64 bytes")
		return
	}

	file, data, done, err := s.files.ReadChunk(ctx, meta.FileID, sess.UserID, meta.Offset)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrorNoDownloadPermission):
			s.sendError(conn, protocol.TypeFileDownloadChunk, pkt.RequestID, codeNoPermission, "no permission to download")
		case errors.Is(err, shared.ErrorStillUploading):
			s.sendError(conn, protocol.TypeFileDownloadChunk, pkt.RequestID, codeStillUploading, "file is still uploading")
		case errors.Is(err, shared.ErrorOffsetOutOfRange):
			s.sendError(conn, protocol.TypeFileDownloadChunk, pkt.RequestID, codeOutOfRange, "offset out of range")
		case errors.Is(err, shared.ErrorNotFound):
			s.sendError(conn, protocol.TypeFileDownloadChunk, pkt.RequestID, codeDownloadFailed, "unknown file")
		default:
			s.logger.Error(ctx, "read chunk failed", "file", meta.FileID,
				"offset", meta.Offset, "error", err)
			s.sendError(conn, protocol.TypeFileDownloadChunk, pkt.RequestID, codeDownloadFailed, "could not read file")
		}
		return
	}

	s.sendMetaBin(conn, protocol.TypeFileDownloadChunk, pkt.RequestID, protocol.FileDownloadChunkMeta{
		Status:   protocol.Status{Status: protocol.StatusOK},
		FileID:   file.FileID,
		Offset:   meta.Offset,
		FileSize: file.FileSize,
		FileName: file.FileName,
		Sha256:   file.Sha256,
		Done:     done,
	}, data)
}
