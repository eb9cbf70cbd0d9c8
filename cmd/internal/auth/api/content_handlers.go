package authapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/forum"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/ratelimit"
)

const maxMultipartMemory = 1 << 20

func (h *Handler) handlePostTokenIssue(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.PostTokens == nil {
		writeUnavailable(w, "post tokens")
		return
	}
	issued, err := h.deps.PostTokens.Issue(r.Context(), c.UserID, c.IP)
	if err != nil {
		h.fail(w, r, "posttoken.issue", err)
		return
	}
	writeJSON(w, http.StatusCreated, issued)
}

func (h *Handler) handleThreadList(w http.ResponseWriter, r *http.Request, _ caller) {
	if h.deps.Forum == nil {
		writeUnavailable(w, "forum")
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	threads, err := h.deps.Forum.ListThreads(r.Context(), q.Get("before"), limit)
	if err != nil {
		h.fail(w, r, "forum.threads.list", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (h *Handler) handleThreadCreate(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.Forum == nil {
		writeUnavailable(w, "forum")
		return
	}
	var req threadCreateRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	t, err := h.deps.Forum.CreateThread(r.Context(), forum.Author{UserID: c.UserID, IP: c.IP}, req.Title, req.Body, req.PostToken)
	if err != nil {
		h.fail(w, r, "forum.thread.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

type threadResponse struct {
	Thread  forum.Thread  `json:"thread"`
	Replies []forum.Reply `json:"replies"`
}

func (h *Handler) handleThreadGet(w http.ResponseWriter, r *http.Request, _ caller) {
	if h.deps.Forum == nil {
		writeUnavailable(w, "forum")
		return
	}
	id := r.PathValue("id")
	t, err := h.deps.Forum.GetThread(r.Context(), id)
	if err != nil {
		h.fail(w, r, "forum.thread.get", err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	replies, err := h.deps.Forum.ListReplies(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, "forum.replies.list", err)
		return
	}
	writeJSON(w, http.StatusOK, threadResponse{Thread: t, Replies: replies})
}

func (h *Handler) handleReplyCreate(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.Forum == nil {
		writeUnavailable(w, "forum")
		return
	}
	var req replyCreateRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	rep, err := h.deps.Forum.CreateReply(r.Context(), forum.Author{UserID: c.UserID, IP: c.IP}, r.PathValue("id"), req.Body, req.PostToken)
	if err != nil {
		h.fail(w, r, "forum.reply.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

// handleReactionToggle adds the caller's reaction, or takes it back when
// the same kind is already there.
func (h *Handler) handleReactionToggle(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.Forum == nil {
		writeUnavailable(w, "forum")
		return
	}
	var req reactionRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	sum, err := h.deps.Forum.React(r.Context(), forum.Author{UserID: c.UserID, IP: c.IP}, r.PathValue("id"), req.Kind)
	if err != nil {
		h.fail(w, r, "forum.reaction.toggle", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) handleReactionList(w http.ResponseWriter, r *http.Request, _ caller) {
	if h.deps.Forum == nil {
		writeUnavailable(w, "forum")
		return
	}
	sum, err := h.deps.Forum.Reactions(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "forum.reactions.list", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleFileUpload takes a multipart form with a single "file" part.
func (h *Handler) handleFileUpload(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.Files == nil || !h.deps.Files.Enabled() {
		writeUnavailable(w, "file storage")
		return
	}
	if !h.allow(w, r, ratelimit.Key("files_upload", c.UserID), h.cfg.FilesRule) {
		return
	}
	// Room for the multipart envelope on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.Files.MaxUploadBytes()+maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "expected multipart form with a file field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing file field")
		return
	}
	defer func() { _ = f.Close() }()

	obj, err := h.deps.Files.Upload(r.Context(), c.UserID, hdr.Filename, f)
	if err != nil {
		h.fail(w, r, "files.upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, obj)
}

func (h *Handler) handleFileDownload(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.Files == nil || !h.deps.Files.Enabled() {
		writeUnavailable(w, "file storage")
		return
	}
	if !h.allow(w, r, ratelimit.Key("files_download", c.UserID), h.cfg.FilesRule) {
		return
	}
	obj, body, err := h.deps.Files.Download(r.Context(), r.PathValue("key"))
	if err != nil {
		h.fail(w, r, "files.download", err)
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.log.Info("files.download.copy.fail", "key", obj.Key, "err", err)
	}
}

func (h *Handler) handleWallet(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.Wallet == nil {
		writeUnavailable(w, "wallet")
		return
	}
	bal, err := h.deps.Wallet.Balance(r.Context(), c.UserID)
	if err != nil {
		h.fail(w, r, "wallet.balance", err)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse{UserID: c.UserID, Balance: bal})
}

func (h *Handler) handleMarketGet(w http.ResponseWriter, r *http.Request, _ caller) {
	if h.deps.Wallet == nil {
		writeUnavailable(w, "betting")
		return
	}
	m, err := h.deps.Wallet.GetMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "wallet.market.get", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleStake(w http.ResponseWriter, r *http.Request, c caller) {
	if h.deps.Wallet == nil {
		writeUnavailable(w, "betting")
		return
	}
	var req stakeRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	s, err := h.deps.Wallet.PlaceStake(r.Context(), r.PathValue("id"), c.UserID, req.Option, req.Amount)
	if err != nil {
		h.fail(w, r, "wallet.stake", err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}
