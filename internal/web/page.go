package web

import (
	"embed"
	"html/template"

	"github.com/osvaldoandrade/nftbatch/pkg/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	IndexTemplate = "index.html"

	Title       = "NFT Batch Download"
	Description = "Enter the contract address of an NFT Collection on Ethereum. Images for that collection will be uploaded to an S3 bucket for batch downloading."
	GitHubURL   = "https://github.com/verumlotus/NFT-Batch-Download"
	TwitterURL  = "https://twitter.com/verumlotus"
)

type FAQEntry struct {
	Question string
	Answer   string
}

var FAQ = []FAQEntry{
	{
		Question: "Why would we want to download NFT Images?",
		Answer: "On-chain contracts only contain a reference to the NFT image & metadata. The actual content is stored on IPFS or a " +
			"Web Server (e.g. for Crypto Coven & Milady). It's a misconception that data stored on IPFS is permanent. Many NFT collections " +
			"use 3rd party pinning services to make their content available. If the data is no longer pinned, it may be lost forever. " +
			"For web servers, if the server is shutdown (forgetting to pay the bill, malicious intent, etc.) images & metadata are " +
			"inaccessible and your NFT points to a 404 link. The IPFS hash of images stored locally can be checked against historical " +
			"blockchain data to verify an image was part of an NFT collection.",
	},
	{
		Question: "What does this website do?",
		Answer: "This website accepts an Ethereum contract address corresponding to an NFT collection. It then fetches the image URIs and " +
			"proceeds to download them and upload them to S3 in small batches. The intention is for users to download images locally in " +
			"case images become unavailable. For images stored on IPFS, in the event that images are no longer pinned to IPFS, users can " +
			"find the IPFS hash of images they have locally. These could be checked against historical blockchain data to come to community " +
			"consensus on which images were actually included in the collection (and what tokenID were they).",
	},
}

// Page is the data rendered by the index template.
type Page struct {
	Title       string
	Description string
	View        domain.View
	// Input prefills the address field; it is the retry target after errors.
	Input       string
	AddressHint string
	FAQ         []FAQEntry
	GitHubURL   string
	TwitterURL  string
}

func NewPage(v domain.View, input string) Page {
	p := Page{
		Title:       Title,
		Description: Description,
		View:        v,
		Input:       input,
		FAQ:         FAQ,
		GitHubURL:   GitHubURL,
		TwitterURL:  TwitterURL,
	}
	if input == "" {
		p.Input = v.Address.String()
	}
	p.AddressHint = AddressHint(domain.ContractAddress(p.Input))
	return p
}

// AddressHint is a soft warning shown under the input. It never blocks a submit.
func AddressHint(a domain.ContractAddress) string {
	a = a.Trimmed()
	if a.IsEmpty() || a.LooksLikeHex() {
		return ""
	}
	return "This does not look like a 0x-prefixed Ethereum address; the archive service may not recognize it."
}

// Templates parses the embedded page templates.
func Templates() *template.Template {
	return template.Must(template.New("").ParseFS(templateFS, "templates/*.html"))
}
