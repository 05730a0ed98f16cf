package chroma

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/pkg/config"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	chromaembed "github.com/amikos-tech/chroma-go/pkg/embeddings"
)

const collectionName = "email_chunks"

// ChromaClient stores chunk embeddings and serves nearest-neighbor queries.
// Embeddings are computed by the caller; the collection carries no embedding
// function of its own.
type ChromaClient struct {
	client     chroma.Client
	config     *config.Config
	collection chroma.Collection
}

func NewChromaClient(cfg *config.Config) (*ChromaClient, error) {
	if cfg.ChromaAPIKey == "" {
		return nil, fmt.Errorf("CHROMA_API_KEY is required")
	}

	var client chroma.Client
	var err error
	if cfg.ChromaDatabase != "" && cfg.ChromaTenant != "" {
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
			chroma.WithDatabaseAndTenant(cfg.ChromaDatabase, cfg.ChromaTenant),
		)
	} else if cfg.ChromaTenant != "" {
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
			chroma.WithTenant(cfg.ChromaTenant),
		)
	} else {
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	// Cosine space so query distances convert directly to similarity.
	ctx := context.Background()
	collection, err := client.GetOrCreateCollection(
		ctx,
		collectionName,
		chroma.WithCollectionMetadataCreate(
			chroma.NewMetadataFromMap(map[string]interface{}{"hnsw:space": "cosine"}),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	log.Printf("Initialized Chroma client with collection: %s", collectionName)

	return &ChromaClient{
		client:     client,
		config:     cfg,
		collection: collection,
	}, nil
}

func chunkDocumentID(emailID string, index int) chroma.DocumentID {
	return chroma.DocumentID(fmt.Sprintf("%s:%d", emailID, index))
}

// UpsertChunks writes one document per chunk with its embedding. Document IDs
// derive from the email ID so re-running the pipeline overwrites rather than
// duplicates.
func (c *ChromaClient) UpsertChunks(ctx context.Context, userID, emailID, subject string, sentAt time.Time, contents []string, vectors [][]float32) error {
	if len(contents) == 0 {
		return nil
	}
	if len(contents) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(contents), len(vectors))
	}

	ids := make([]chroma.DocumentID, 0, len(contents))
	metadatas := make([]chroma.DocumentMetadata, 0, len(contents))
	embeds := make([]chromaembed.Embedding, 0, len(contents))

	for i := range contents {
		metadata, err := chroma.NewDocumentMetadataFromMap(map[string]interface{}{
			"user_id":     userID,
			"email_id":    emailID,
			"chunk_index": i,
			"subject":     subject,
			"sent_at":     sentAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("failed to create metadata: %w", err)
		}

		ids = append(ids, chunkDocumentID(emailID, i))
		metadatas = append(metadatas, metadata)
		embeds = append(embeds, chromaembed.NewEmbeddingFromFloat32(vectors[i]))
	}

	err := c.collection.Upsert(
		ctx,
		chroma.WithIDs(ids...),
		chroma.WithMetadatas(metadatas...),
		chroma.WithTexts(contents...),
		chroma.WithEmbeddings(embeds...),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk embeddings: %w", err)
	}

	return nil
}

// SearchChunks runs a nearest-neighbor query scoped to one user and returns
// matches ranked by cosine similarity descending.
func (c *ChromaClient) SearchChunks(ctx context.Context, userID string, queryVector []float32, limit int) ([]emaildomain.ChunkMatch, error) {
	if limit <= 0 {
		limit = 10
	}

	where := chroma.EqString("user_id", userID)

	results, err := c.collection.Query(
		ctx,
		chroma.WithQueryEmbeddings(chromaembed.NewEmbeddingFromFloat32(queryVector)),
		chroma.WithNResults(limit),
		chroma.WithWhereQuery(where),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	if results == nil || results.CountGroups() == 0 {
		return []emaildomain.ChunkMatch{}, nil
	}

	idGroups := results.GetIDGroups()
	distanceGroups := results.GetDistancesGroups()
	metadataGroups := results.GetMetadatasGroups()

	if len(idGroups) == 0 || len(idGroups[0]) == 0 {
		return []emaildomain.ChunkMatch{}, nil
	}

	matches := make([]emaildomain.ChunkMatch, 0, len(idGroups[0]))
	for i := range idGroups[0] {
		match := emaildomain.ChunkMatch{}

		if len(distanceGroups) > 0 && i < len(distanceGroups[0]) {
			// Cosine distance -> similarity.
			match.Similarity = 1 - float64(distanceGroups[0][i])
		}

		if len(metadataGroups) > 0 && i < len(metadataGroups[0]) {
			md := metadataGroups[0][i]
			if v, ok := md.GetString("email_id"); ok {
				match.EmailID = v
			}
			if v, ok := md.GetString("subject"); ok {
				match.Subject = v
			}
			if v, ok := md.GetInt("chunk_index"); ok {
				match.ChunkIndex = int(v)
			}
			if v, ok := md.GetString("sent_at"); ok {
				if ts, perr := time.Parse(time.RFC3339, v); perr == nil {
					match.SentAt = ts
				}
			}
		}

		if match.EmailID == "" {
			// Fall back to parsing the document ID ("<emailID>:<index>").
			id := string(idGroups[0][i])
			for j := len(id) - 1; j >= 0; j-- {
				if id[j] == ':' {
					match.EmailID = id[:j]
					if idx, perr := strconv.Atoi(id[j+1:]); perr == nil {
						match.ChunkIndex = idx
					}
					break
				}
			}
		}

		matches = append(matches, match)
	}

	return matches, nil
}

// DeleteEmailChunks removes every chunk document belonging to an email. Used
// by external administrative deletion, not by the pipeline itself.
func (c *ChromaClient) DeleteEmailChunks(ctx context.Context, emailID string) error {
	err := c.collection.Delete(ctx, chroma.WithWhereDelete(chroma.EqString("email_id", emailID)))
	if err != nil {
		return fmt.Errorf("failed to delete chunk embeddings: %w", err)
	}
	return nil
}
