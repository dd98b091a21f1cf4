package api

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/pointcarve/server/internal/pipeline"
	"github.com/pointcarve/server/internal/registry"
)

// handleJobs handles POST /api/jobs: a .pcd upload forwarded to the
// processing service. The returned job is loaded into the registry and a
// fresh editing session starts.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.Pipeline.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid multipart upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Printf("[API] failed to close upload: %v", err)
		}
	}()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pcd") {
		respondWithError(w, http.StatusBadRequest, "Only .pcd files are supported")
		return
	}

	result, err := s.pipeline.ProcessPointCloud(header.Filename, file)
	if err != nil {
		log.Printf("[API] processing failed for %s: %v", header.Filename, err)
		respondWithError(w, http.StatusBadGateway, "Point cloud processing failed")
		return
	}

	s.loadJob(result)
	respondWithJSON(w, http.StatusOK, result)
}

// handleJobByID routes GET /api/jobs/{job_id} and POST /api/jobs/{job_id}/export.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		respondWithError(w, http.StatusBadRequest, "Missing job ID")
		return
	}

	if jobID, ok := strings.CutSuffix(path, "/export"); ok {
		s.handleExport(w, r, jobID)
		return
	}

	if strings.Contains(path, "/") {
		respondWithError(w, http.StatusNotFound, "Not found")
		return
	}

	s.handleGetJob(w, r, path)
}

// handleGetJob re-fetches an existing job and reopens it as the current
// editing session.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	result, err := s.pipeline.Results(jobID)
	if err != nil {
		log.Printf("[API] failed to fetch job %s: %v", jobID, err)
		respondWithError(w, http.StatusNotFound, "Job not found")
		return
	}

	s.loadJob(result)
	respondWithJSON(w, http.StatusOK, result)
}

// handleExport submits the session's committed deletions for job_id to the
// processing service and returns the download location.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req := pipeline.ExportRequest{
		JobID:       jobID,
		BoundingBox: s.boxes.Deletions(),
	}

	resp, err := s.pipeline.SubmitDeletions(req)
	if err != nil {
		log.Printf("[API] export failed for job %s: %v", jobID, err)
		respondWithError(w, http.StatusBadGateway, "Export failed")
		return
	}

	// The submitted deletions are now applied upstream; the session log
	// must not be exported twice.
	s.boxes.ResetSession()
	respondWithJSON(w, http.StatusOK, resp)
}

// loadJob replaces the current editing session with the given job: the
// registry is emptied, per-role chunk records are registered, and a render
// session barrier waits for every mesh before the camera focuses the first
// group.
func (s *Server) loadJob(result *pipeline.JobResult) {
	s.boxes.ResetSession()
	s.registry.ClearAll()

	firstBase := ""
	expected := 0
	for _, chunk := range result.Results {
		base := fmt.Sprintf("chunk%04d", chunk.ChunkID)
		if firstBase == "" {
			firstBase = base
		}

		s.registry.AddChunk(base+"_"+registry.RoleGround, registry.ChunkData{})
		s.registry.AddChunk(base+"_"+registry.RoleStatic, registry.ChunkData{})
		expected += 2

		for i, obj := range chunk.Dynamic {
			id := fmt.Sprintf("%s_%s_%d", base, registry.RoleDynamicPrefix, i)
			confidence := obj.Confidence
			data := registry.ChunkData{Confidence: &confidence}
			if obj.BoundingBox != nil {
				box := obj.BoundingBox.ToOBB()
				data.InitialBox = &box
			}
			s.registry.AddChunk(id, data)
			expected++
		}
	}

	done := s.registry.StartRenderSession(expected)
	if firstBase == "" {
		return
	}

	base := firstBase
	go func() {
		<-done
		s.registry.FocusGroup(base)
	}()

	log.Printf("[API] job %s loaded: %d chunks pending render", result.JobID, expected)
}
