package projections

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/config"
)

// NewElasticsearchClient creates a new Elasticsearch client.
func NewElasticsearchClient(cfg config.Config) (*elasticsearch.Client, error) {
	elasticCfg := elasticsearch.Config{
		Addresses: []string{cfg.ElasticURL},
		Username:  cfg.ElasticUsername,
		Password:  cfg.ElasticPassword,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
		},
	}

	client, err := elasticsearch.NewClient(elasticCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Elasticsearch client: %w", err)
	}

	// Check the connection
	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("error connecting to Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("Elasticsearch returned error: %s", res.String())
	}

	log.Info().Msg("Successfully connected to Elasticsearch")
	return client, nil
}

// formatIndex adds the configured prefix to an index name.
func formatIndex(prefix, indexName string) string {
	if prefix == "" {
		return indexName
	}
	return prefix + "-" + indexName
}

func bytesReader(doc []byte) io.Reader {
	return bytes.NewReader(doc)
}

// EnsureIndices ensures that all required indices exist.
func EnsureIndices(client *elasticsearch.Client, cfg config.Config) error {
	for _, index := range []string{OrdersIndex} {
		formattedIndex := formatIndex(cfg.ElasticPrefix, index)

		res, err := client.Indices.Exists([]string{formattedIndex})
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", formattedIndex, err)
		}
		res.Body.Close()

		if res.StatusCode == http.StatusNotFound {
			created, err := client.Indices.Create(formattedIndex)
			if err != nil {
				return fmt.Errorf("error creating index %s: %w", formattedIndex, err)
			}
			created.Body.Close()
			log.Info().Str("index", formattedIndex).Msg("Created Elasticsearch index")
		}
	}

	return nil
}
