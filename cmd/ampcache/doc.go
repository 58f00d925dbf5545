// Command ampcache prints AMP cache URLs for publisher documents.
//
//	ampcache -origin https://viewer.example https://www.example.com/story
//	ampcache -mode native -p cap=swipe http://news.example.com/a?x=1
//	ampcache -explain https://www.ampproject.org/
//	ampcache -manifest articles.yaml -prefetch
//
// One URL is printed per line, in input order: manifest articles first,
// then positional arguments. -explain prefixes each URL with its cache
// subdomain label and whether the label is readable or a fallback hash.
// -prefetch fetches the native entry point of every article and prints a
// status line for each; the exit code is 1 if any fetch fails or is not an
// AMP document.
package main
